// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package farcall

import "strings"

// An OriginPolicy reports whether messages from the given origin are
// permitted to reach the local endpoint.
//
// A nil OriginPolicy permits nothing: an endpoint that does not configure
// an allow-list drops all bridge traffic rather than silently accepting it.
type OriginPolicy func(origin string) bool

// Permits reports whether origin is permitted by p. It is safe to call on a
// nil policy, which reports false for every origin.
func (p OriginPolicy) Permits(origin string) bool { return p != nil && p(origin) }

// AllowOrigins returns a policy permitting exactly the origins listed in s,
// separated by single spaces. Matching is exact string equality; there is no
// wildcard, prefix, or suffix matching. An empty list permits nothing.
func AllowOrigins(s string) OriginPolicy {
	allowed := make(map[string]bool)
	for _, origin := range strings.Split(s, " ") {
		if origin != "" {
			allowed[origin] = true
		}
	}
	return func(origin string) bool { return allowed[origin] }
}
