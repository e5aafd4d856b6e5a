package signaling

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
)

// DialOptions configures Dial.
type DialOptions struct {
	// Token is sent as a bearer token.
	Token string

	// Binary selects msgpack binary frames instead of JSON text frames.
	Binary bool
}

// Client sends signals to a Server.
type Client struct {
	ws *websocket.Conn
	mt int

	mu sync.Mutex
}

// Dial connects to a signalling server at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts *DialOptions) (*Client, error) {
	if opts == nil {
		opts = &DialOptions{}
	}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("signaling: dial %s: %w", url, ErrUnauthorized)
		}
		return nil, fmt.Errorf("signaling: dial %s: %w", url, err)
	}
	mt := websocket.TextMessage
	if opts.Binary {
		mt = websocket.BinaryMessage
	}
	return &Client{ws: ws, mt: mt}, nil
}

// Send delivers sig and waits for its Ack. A rejected signal returns an
// error wrapping ErrRejected.
func (c *Client) Send(ctx context.Context, sig cmtspeech.Signal) (Envelope, error) {
	env := NewEnvelope(sig)
	data, err := encode(c.mt, env)
	if err != nil {
		return env, fmt.Errorf("signaling: encode: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	c.ws.SetWriteDeadline(deadline)
	c.ws.SetReadDeadline(deadline)

	if err := c.ws.WriteMessage(c.mt, data); err != nil {
		return env, fmt.Errorf("signaling: send: %w", err)
	}
	mt, reply, err := c.ws.ReadMessage()
	if err != nil {
		return env, fmt.Errorf("signaling: read ack: %w", err)
	}
	var ack Ack
	if err := decode(mt, reply, &ack); err != nil {
		return env, fmt.Errorf("signaling: decode ack: %w", err)
	}
	if ack.Error != "" {
		return env, fmt.Errorf("%w: %s", ErrRejected, ack.Error)
	}
	if ack.ID != env.ID {
		return env, fmt.Errorf("signaling: ack for %q, sent %q", ack.ID, env.ID)
	}
	return env, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
