package channel

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/danmuck/vizlink/internal/logging"
	"github.com/danmuck/vizlink/internal/protocol"
)

var (
	ErrClosed      = errors.New("channel: closed")
	ErrURLRequired = errors.New("channel: url required")
	ErrAckSent     = errors.New("channel: ack already sent")
)

// AckFunc answers an inbound event that asked for an ack.
type AckFunc func(payload any) error

// Handler receives one inbound event. Handlers run on the read loop and
// must not block; ack is nil when the sender did not ask for one.
type Handler func(data json.RawMessage, ack AckFunc)

type DialConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	TLS              *tls.Config
	Header           http.Header
	Logger           *zerolog.Logger
}

type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	log          zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[uint64]chan json.RawMessage

	nextID    atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial opens the websocket and starts the read loop.
func Dial(ctx context.Context, cfg DialConfig) (*Conn, error) {
	if cfg.URL == "" {
		return nil, ErrURLRequired
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig:  cfg.TLS,
	}
	ws, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("channel: dial %s: status=%d: %w", cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("channel: dial %s: %w", cfg.URL, err)
	}
	c := newConn(ws, cfg)
	go c.readLoop()
	return c, nil
}

func newConn(ws *websocket.Conn, cfg DialConfig) *Conn {
	return &Conn{
		ws:           ws,
		writeTimeout: cfg.WriteTimeout,
		log:          logging.OrDefault(cfg.Logger).With().Str("component", "channel").Logger(),
		handlers:     make(map[string]Handler),
		pending:      make(map[uint64]chan json.RawMessage),
		done:         make(chan struct{}),
	}
}

// On installs the handler for event, replacing any previous one.
func (c *Conn) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// Emit sends a fire-and-forget event.
func (c *Conn) Emit(event string, payload any) error {
	env, err := protocol.NewEvent(event, 0, payload)
	if err != nil {
		return err
	}
	return c.write(env)
}

// Request sends event and waits for the matching ack. Exactly one reply is
// consumed.
func (c *Conn) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	env, err := protocol.NewEvent(event, id, payload)
	if err != nil {
		return nil, err
	}
	reply := make(chan json.RawMessage, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer c.dropPending(id)

	if err := c.write(env); err != nil {
		return nil, err
	}
	select {
	case data := <-reply:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.Err()
	}
}

// Done is closed once the channel has failed or been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the channel closed; nil while open.
func (c *Conn) Err() error {
	select {
	case <-c.done:
	default:
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	c.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

func (c *Conn) write(env protocol.Envelope) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteJSON(env); err != nil {
		c.shutdown(fmt.Errorf("%w: write %s: %v", ErrClosed, env.Event, err))
		return c.Err()
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.shutdown(ErrClosed)
			} else {
				c.shutdown(fmt.Errorf("%w: read: %v", ErrClosed, err))
			}
			return
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable envelope")
			continue
		}
		switch env.Type {
		case protocol.EnvelopeAck:
			c.deliverAck(env)
		case protocol.EnvelopeEvent:
			c.dispatch(env)
		}
	}
}

func (c *Conn) deliverAck(env protocol.Envelope) {
	c.mu.Lock()
	reply, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Uint64("id", env.ID).Msg("ack without pending request")
		return
	}
	reply <- env.Data
}

func (c *Conn) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	h := c.handlers[env.Event]
	c.mu.Unlock()
	if h == nil {
		c.log.Debug().Str("event", env.Event).Msg("no handler for event")
		return
	}
	var ack AckFunc
	if env.ID != 0 {
		var sent atomic.Bool
		id := env.ID
		ack = func(payload any) error {
			if !sent.CompareAndSwap(false, true) {
				return ErrAckSent
			}
			out, err := protocol.NewAck(id, payload)
			if err != nil {
				return err
			}
			return c.write(out)
		}
	}
	h(env.Data, ack)
}

func (c *Conn) dropPending(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
		if cause == ErrClosed {
			c.log.Debug().Msg("channel closed")
		} else {
			c.log.Warn().Err(cause).Msg("channel failed")
		}
	})
}
