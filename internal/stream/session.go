package stream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danmuck/vizlink/internal/channel"
	"github.com/danmuck/vizlink/internal/protocol"
)

// Channel is the persistent worker transport a session runs over.
type Channel interface {
	On(event string, h channel.Handler)
	Emit(event string, payload any) error
	Request(ctx context.Context, event string, payload any) (json.RawMessage, error)
	Done() <-chan struct{}
	Close() error
}

// Session is one accepted worker session. Its context ends when the
// channel closes.
type Session struct {
	ID         string
	Endpoint   protocol.Endpoint
	BaseURL    string
	Channel    Channel
	HTTPClient *http.Client

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession binds an open channel to its endpoint. baseURL is the
// scheme://host:port resource fetches are issued against.
func NewSession(ch Channel, id string, ep protocol.Endpoint, baseURL string, client *http.Client) *Session {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         id,
		Endpoint:   ep,
		BaseURL:    baseURL,
		Channel:    ch,
		HTTPClient: client,
		ctx:        ctx,
		cancel:     cancel,
	}
	go func() {
		select {
		case <-ch.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return s
}

// Context is canceled when the session ends.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Close() error {
	s.cancel()
	return s.Channel.Close()
}
