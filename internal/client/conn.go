package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"coderoom-service/internal/domain"
	"github.com/gorilla/websocket"
)

// ServerError is an error message pushed by the server.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ServerError) Error() string {
	return e.Code + ": " + e.Message
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Conn is a websocket connection to one room. Snapshots pushed by the server
// are delivered on Snapshots; errors on Errors; verdicts on Verdicts and
// practice run results on Runs.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	snapshots chan domain.Room
	errors    chan ServerError
	verdicts  chan domain.Verdict
	runs      chan domain.Verdict
	done      chan struct{}
	err       error
}

// Dial connects to the room code on baseURL (http or ws scheme) and requests
// an initial sync.
func Dial(ctx context.Context, baseURL, code, token string) (*Conn, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/rooms/" + url.PathEscape(code)
	u.RawQuery = url.Values{"token": {token}}.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", code, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", code, err)
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		ws.Close()
		return nil, fmt.Errorf("dial %s: unexpected status %d", code, resp.StatusCode)
	}

	c := &Conn{
		ws:        ws,
		snapshots: make(chan domain.Room, 16),
		errors:    make(chan ServerError, 4),
		verdicts:  make(chan domain.Verdict, 4),
		runs:      make(chan domain.Verdict, 4),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	if err := c.Send("sync", nil); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) Snapshots() <-chan domain.Room   { return c.snapshots }
func (c *Conn) Errors() <-chan ServerError      { return c.errors }
func (c *Conn) Verdicts() <-chan domain.Verdict { return c.verdicts }
func (c *Conn) Runs() <-chan domain.Verdict     { return c.runs }
func (c *Conn) Done() <-chan struct{}           { return c.done }

// Err returns why the connection ended, once Done is closed.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

// Send writes a command such as "start", "cancel", "leave" or "sync".
func (c *Conn) Send(typ string, payload interface{}) error {
	msg := map[string]interface{}{"type": typ}
	if payload != nil {
		msg["payload"] = payload
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

// Submit sends source for judging; the verdict arrives on Verdicts.
func (c *Conn) Submit(source string) error {
	return c.Send("submit", map[string]string{"source": source})
}

// Run sends source for a practice run on the sample cases; the result
// arrives on Runs and the room is left untouched.
func (c *Conn) Run(source string) error {
	return c.Send("run", map[string]string{"source": source})
}

// Close hangs up. Pending reads end and Snapshots is closed.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.snapshots)
	for {
		var msg envelope
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = err
			}
			return
		}
		switch msg.Type {
		case "room":
			var room domain.Room
			if err := json.Unmarshal(msg.Payload, &room); err != nil {
				continue
			}
			// Level-triggered: when the consumer lags, the newest snapshot wins.
			offerSnapshot(c.snapshots, room)
		case "error":
			var serr ServerError
			if err := json.Unmarshal(msg.Payload, &serr); err != nil {
				continue
			}
			select {
			case c.errors <- serr:
			default:
			}
		case "verdict":
			var v domain.Verdict
			if err := json.Unmarshal(msg.Payload, &v); err != nil {
				continue
			}
			select {
			case c.verdicts <- v:
			default:
			}
		case "runResult":
			var v domain.Verdict
			if err := json.Unmarshal(msg.Payload, &v); err != nil {
				continue
			}
			select {
			case c.runs <- v:
			default:
			}
		}
	}
}

func offerSnapshot(ch chan domain.Room, room domain.Room) {
	for {
		select {
		case ch <- room:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
