package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame.
	writeWait = 10 * time.Second

	// Time allowed for the opening handshake.
	handshakeTimeout = 10 * time.Second
)

// WebsocketDialer opens sockets with gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer returns a dialer honoring proxy environment variables.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial connects to rawURL.
func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, handshakeError(resp, err)
	}
	return &wsConn{conn: conn}, nil
}

// handshakeError turns a failed dial into a CloseError. A rejection of the request
// itself (bad parameters or credentials) maps to a policy violation, anything else
// to an abnormal closure.
func handshakeError(resp *http.Response, err error) error {
	if resp == nil {
		return &CloseError{Code: CloseAbnormal, Reason: err.Error(), Err: err}
	}

	reason := resp.Status
	if resp.Body != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			reason = fmt.Sprintf("%s: %s", resp.Status, msg)
		}
	}

	code := CloseAbnormal
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		code = ClosePolicyViolation
	}
	return &CloseError{Code: code, Reason: reason, Err: err}
}

type wsConn struct {
	conn *websocket.Conn

	// gorilla allows one concurrent writer.
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) WriteMessage(t MessageType, data []byte) error {
	mt := websocket.TextMessage
	if t == BinaryMessage {
		mt = websocket.BinaryMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(mt, data)
}

func (c *wsConn) ReadMessage() (MessageType, []byte, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		return 0, nil, readError(err)
	}
	if mt == websocket.BinaryMessage {
		return BinaryMessage, data, nil
	}
	return TextMessage, data, nil
}

func readError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Reason: ce.Text, Err: err}
	}
	return &CloseError{Code: CloseAbnormal, Reason: err.Error(), Err: err}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
