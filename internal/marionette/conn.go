package marionette

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Retry defaults for connection establishment. The browser opens its
// listener some time after the process starts, so refused connections are
// retried until the context expires.
const (
	dialBaseBackoff = 100 * time.Millisecond
	dialMaxBackoff  = time.Second
)

// ErrConnBroken is returned by Command after an earlier exchange left the
// stream in an unknown state.
var ErrConnBroken = errors.New("marionette connection is broken")

// Conn is a client connection to a Marionette server.
// Each Conn is used by a single goroutine.
type Conn struct {
	conn     net.Conn
	reader   *bufio.Reader // kept for all reads so bytes buffered during the greeting are not lost
	greeting Greeting
	nextID   uint32
	broken   bool
}

// Dial connects to the Marionette server at addr and reads its greeting.
// Connection failures are retried with exponential backoff until ctx is done.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var lastErr error
	backoff := dialBaseBackoff

	for attempt := 1; ; attempt++ {
		c, err := dial(ctx, addr)
		if err == nil {
			return c, nil
		}
		lastErr = err

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("dial marionette after %d attempts: %w (last error: %v)", attempt, ctx.Err(), lastErr)
		}
		backoff = min(backoff*2, dialMaxBackoff)
	}
}

// dial makes a single connection attempt and validates the greeting.
func dial(ctx context.Context, addr string) (*Conn, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetReadDeadline(deadline); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	reader := bufio.NewReader(conn)
	var greeting Greeting
	if err := ReadMessage(reader, &greeting); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	if greeting.ApplicationType != "gecko" {
		conn.Close()
		return nil, fmt.Errorf("unexpected application type %q", greeting.ApplicationType)
	}
	if greeting.MarionetteProtocol < SupportedProtocol {
		conn.Close()
		return nil, fmt.Errorf("unsupported marionette protocol %d (need %d)", greeting.MarionetteProtocol, SupportedProtocol)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clear deadline: %w", err)
	}

	return &Conn{conn: conn, reader: reader, greeting: greeting, nextID: 1}, nil
}

// Greeting returns the server greeting received on connect.
func (c *Conn) Greeting() Greeting {
	return c.greeting
}

// Command sends a command and waits for its response. When result is non-nil
// the response body is decoded into it. A server-side failure is returned as
// *ProtocolError. The exchange is bounded by ctx; if ctx ends first the
// connection is marked broken and ctx.Err() is wrapped in the returned error.
func (c *Conn) Command(ctx context.Context, name string, params any, result any) error {
	if c.broken {
		return ErrConnBroken
	}
	if params == nil {
		params = struct{}{}
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("%s: set deadline: %w", name, err)
	}
	stop := context.AfterFunc(ctx, func() {
		// Unblock any pending read or write.
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		if !stop() {
			c.broken = true
		}
	}()

	id := c.nextID
	c.nextID++

	if err := WriteMessage(c.conn, []any{msgTypeCommand, id, name, params}); err != nil {
		c.broken = true
		return c.wrapIOError(ctx, name, err)
	}

	for {
		var packet []json.RawMessage
		if err := ReadMessage(c.reader, &packet); err != nil {
			c.broken = true
			return c.wrapIOError(ctx, name, err)
		}

		resp, err := decodeResponse(packet)
		if err != nil {
			c.broken = true
			return fmt.Errorf("%s: %w", name, err)
		}
		if resp.id != id {
			// A late reply to an earlier command; keep waiting for ours.
			continue
		}
		if resp.err != nil {
			return resp.err
		}
		if result != nil && len(resp.result) > 0 && string(resp.result) != "null" {
			if err := json.Unmarshal(resp.result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", name, err)
			}
		}
		return nil
	}
}

func (c *Conn) wrapIOError(ctx context.Context, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", name, ctxErr)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		// The socket deadline is the context deadline; it can fire first.
		return fmt.Errorf("%s: %w", name, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
