package scaffolding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/PCL-Community/PCL.Core-sub001/internal/player"
	"github.com/PCL-Community/PCL.Core-sub001/internal/protocol"
	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// DefaultHeartbeat is the period of the client's ping + roster cycle.
const DefaultHeartbeat = 5 * time.Second

var (
	// ErrClosed is returned by requests on a closed client.
	ErrClosed = errors.New("scaffolding client closed")
	// ErrServerShutdown is what OnServerShutdown receives, wrapping the cause.
	ErrServerShutdown = errors.New("lobby server shut down")
	// ErrGameNotRunning is returned by ServerPort while the host has no game open.
	ErrGameNotRunning = errors.New("host game server is not running")
)

// StatusError is a non-200 response.
type StatusError struct {
	Type   string
	Status uint16
	Body   []byte
}

func (e *StatusError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Type, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Type, e.Status)
}

// Client is one guest's connection to a lobby host.
type Client struct {
	// Heartbeat is the Run loop period.
	Heartbeat time.Duration
	// OnPlayersUpdated receives every roster fetched by Run.
	OnPlayersUpdated func([]player.Profile)
	// OnServerShutdown is called at most once, when the connection fails.
	OnServerShutdown func(error)
	// MaxBodySize caps response bodies; zero means protocol.StreamBodyLimit.
	MaxBodySize int

	self protocol.PlayerPing
	conn net.Conn

	// inflight admits one request/response pair at a time.
	inflight sync.Mutex

	closeOnce    sync.Once
	shutdownOnce sync.Once
	closed       chan struct{}
}

// Dial connects to a host at addr and identifies as self in heartbeats.
func Dial(ctx context.Context, addr string, self protocol.PlayerPing) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lobby host %s: %w", addr, err)
	}
	util.LogInfo("[client] connected to lobby host %s", addr)
	return NewClient(conn, self), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, self protocol.PlayerPing) *Client {
	return &Client{
		Heartbeat: DefaultHeartbeat,
		self:      self,
		conn:      conn,
		closed:    make(chan struct{}),
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.closed }

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// SendRequest writes req and waits for its response. Concurrent callers
// queue; frames never interleave. Any transport error or mismatched reply
// leaves the stream unusable, so the client is closed.
func (c *Client) SendRequest(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	c.inflight.Lock()
	defer c.inflight.Unlock()

	if c.isClosed() {
		return protocol.Response{}, ErrClosed
	}

	c.conn.SetDeadline(time.Time{})
	// Abort the in-flight read or write on cancellation.
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	resp, err := c.roundTrip(req)
	if err != nil {
		c.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.Response{}, ctxErr
		}
		return protocol.Response{}, err
	}
	return resp, nil
}

func (c *Client) roundTrip(req protocol.Request) (protocol.Response, error) {
	if err := protocol.WriteRequest(c.conn, req); err != nil {
		return protocol.Response{}, fmt.Errorf("%s: write: %w", req.Type, err)
	}
	util.Stats.AddFrameOut()

	resp, err := protocol.ReadResponseLimit(c.conn, c.MaxBodySize)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("%s: read: %w", req.Type, err)
	}
	util.Stats.AddFrameIn()

	if resp.Type != req.Type {
		return protocol.Response{}, fmt.Errorf("response type %q does not match request %q", resp.Type, req.Type)
	}
	return resp, nil
}

// call is SendRequest plus status checking.
func (c *Client) call(ctx context.Context, req protocol.Request) ([]byte, error) {
	resp, err := c.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &StatusError{Type: resp.Type, Status: resp.Status, Body: resp.Body}
	}
	return resp.Body, nil
}

// ----

// Ping sends payload and returns the host's echo.
func (c *Client) Ping(ctx context.Context, payload []byte) ([]byte, error) {
	return c.call(ctx, protocol.Request{Type: protocol.TypePing, Body: payload})
}

// Protocols lists the request types the host understands.
func (c *Client) Protocols(ctx context.Context) ([]string, error) {
	body, err := c.call(ctx, protocol.Request{Type: protocol.TypeProtocols})
	if err != nil {
		return nil, err
	}
	return protocol.DecodeProtocols(body), nil
}

// ServerPort asks for the host's game port.
func (c *Client) ServerPort(ctx context.Context) (int, error) {
	body, err := c.call(ctx, protocol.Request{Type: protocol.TypeServerPort})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == protocol.StatusNotRunning {
			return 0, ErrGameNotRunning
		}
		return 0, err
	}
	return protocol.DecodePort(body)
}

// PlayerPing announces this guest to the host.
func (c *Client) PlayerPing(ctx context.Context) error {
	req, err := protocol.NewPlayerPing(c.self)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, req)
	return err
}

// Players fetches the lobby roster, host first.
func (c *Client) Players(ctx context.Context) ([]player.Profile, error) {
	body, err := c.call(ctx, protocol.Request{Type: protocol.TypePlayerProfileList})
	if err != nil {
		return nil, err
	}
	return protocol.DecodeProfiles(body)
}

// ----

// Run performs one heartbeat cycle immediately and then one per Heartbeat
// period until ctx is cancelled or a cycle fails. On failure the client is
// closed, OnServerShutdown fires once and the wrapped error is returned.
// There is no reconnection.
func (c *Client) Run(ctx context.Context) error {
	interval := c.Heartbeat
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.beat(ctx); err != nil {
			if ctx.Err() != nil {
				c.Close()
				return nil
			}
			util.Stats.HeartbeatFailed()
			return c.shutdown(err)
		}
		util.Stats.HeartbeatOK()

		select {
		case <-ticker.C:
		case <-ctx.Done():
			c.Close()
			return nil
		case <-c.closed:
			if ctx.Err() != nil {
				return nil
			}
			return c.shutdown(ErrClosed)
		}
	}
}

func (c *Client) beat(ctx context.Context) error {
	if err := c.PlayerPing(ctx); err != nil {
		return err
	}
	players, err := c.Players(ctx)
	if err != nil {
		return err
	}
	if c.OnPlayersUpdated != nil {
		c.OnPlayersUpdated(players)
	}
	return nil
}

func (c *Client) shutdown(cause error) error {
	err := fmt.Errorf("%w: %v", ErrServerShutdown, cause)
	c.Close()
	c.shutdownOnce.Do(func() {
		util.LogWarning("[client] %v", err)
		if c.OnServerShutdown != nil {
			c.OnServerShutdown(err)
		}
	})
	return err
}
