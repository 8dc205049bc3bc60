package realtime

import (
	"context"
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Frame types on the wire.
const (
	FrameJoin     = "joinRoom"
	FrameLeave    = "leaveRoom"
	FrameProgress = "progress"
)

// Frame is one JSON text message. Room is the resource id.
type Frame struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Conn is a connected push stream.
type Conn interface {
	Read(ctx context.Context) (Frame, error)
	Write(ctx context.Context, f Frame) error
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketDialer dials the progress endpoint over a websocket.
type WebsocketDialer struct {
	URL        string
	Header     http.Header
	HTTPClient *http.Client
}

var _ Dialer = (*WebsocketDialer)(nil)

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	c, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (Frame, error) {
	var f Frame
	err := wsjson.Read(ctx, w.c, &f)
	return f, err
}

func (w *wsConn) Write(ctx context.Context, f Frame) error {
	return wsjson.Write(ctx, w.c, f)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
