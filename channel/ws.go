// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"context"
	"sync"

	"github.com/creachadair/farcall"
	"github.com/gorilla/websocket"
)

// WS adapts a websocket connection to the farcall.Channel interface.
// Messages are exchanged as JSON text frames. As with IO, the connection
// has exactly one peer, and every received message is stamped with
// remoteOrigin. Frames that do not parse as messages are dropped silently.
func WS(conn *websocket.Conn, remoteOrigin string) *WSChannel {
	return &WSChannel{conn: conn, origin: remoteOrigin}
}

// Dial connects a websocket to url and returns a channel on the resulting
// connection, with remoteOrigin as the asserted origin of the peer.
func Dial(ctx context.Context, url, remoteOrigin string) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return WS(conn, remoteOrigin), nil
}

// A WSChannel sends and receives messages on a websocket connection.
type WSChannel struct {
	wmu    sync.Mutex // exclusive access to write to conn
	conn   *websocket.Conn
	origin string
}

// Send implements a method of the [farcall.Channel] interface.
func (c *WSChannel) Send(msg *farcall.Message, targetOrigin string) error {
	if targetOrigin != "*" && targetOrigin != c.origin {
		return nil // not addressed to the remote endpoint; discard
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg.Encode())
}

// Recv implements a method of the [farcall.Channel] interface.
func (c *WSChannel) Recv() (*farcall.Message, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var msg farcall.Message
		if msg.Decode(data) != nil {
			continue // malformed input is dropped, not fatal
		}
		msg.Origin = c.origin
		return &msg, nil
	}
}

// Close implements a method of the [farcall.Channel] interface.
func (c *WSChannel) Close() error { return c.conn.Close() }

// RemoteOrigin implements the [farcall.OriginReporter] extension.
func (c *WSChannel) RemoteOrigin() string { return c.origin }
