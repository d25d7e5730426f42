package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// candidateClient plays the candidate side of one websocket session.
type candidateClient struct {
	conn   *websocket.Conn
	frames chan frame
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func dialCandidate(t *testing.T, ctx context.Context, addr string) *candidateClient {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u.String(), err)
	}
	c := &candidateClient{
		conn:   conn,
		frames: make(chan frame, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (c *candidateClient) readLoop() {
	defer close(c.done)
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		c.frames <- f
	}
}

func (c *candidateClient) send(event string, data any) error {
	msg := map[string]any{"event": event}
	if data != nil {
		msg["data"] = data
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client closed")
	}
	return c.conn.WriteJSON(msg)
}

// expect skips frames until event arrives and decodes its data into out.
func (c *candidateClient) expect(t *testing.T, event string, out any) []string {
	t.Helper()
	var skipped []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f := <-c.frames:
			if f.Event != event {
				skipped = append(skipped, f.Event)
				continue
			}
			if out != nil {
				if err := json.Unmarshal(f.Data, out); err != nil {
					t.Fatalf("decode %s: %v", event, err)
				}
			}
			return skipped
		case <-c.done:
			t.Fatalf("connection closed while waiting for %s (skipped %v)", event, skipped)
		case <-timeout:
			t.Fatalf("timed out waiting for %s (skipped %v)", event, skipped)
		}
	}
}

// next returns the next frame's event name.
func (c *candidateClient) next(t *testing.T) string {
	t.Helper()
	select {
	case f := <-c.frames:
		return f.Event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return ""
	}
}

func (c *candidateClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
