package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/vizlink/internal/channel"
	"github.com/danmuck/vizlink/internal/logging"
	"github.com/danmuck/vizlink/internal/observability"
	"github.com/danmuck/vizlink/internal/protocol"
	"github.com/danmuck/vizlink/internal/protocol/session"
)

// AddressResolver finds the worker endpoint for a client query.
type AddressResolver interface {
	Resolve(ctx context.Context, query url.Values) (protocol.Endpoint, error)
}

// DialFunc opens a channel; channel.Dial in production.
type DialFunc func(ctx context.Context, cfg channel.DialConfig) (Channel, error)

// ClientConfig configures session negotiation. Metadata receives the
// session id and worker address once connected; it defaults to the
// process metadata record, which the process logger already carries.
type ClientConfig struct {
	VizType  string
	Query    url.Values
	Resolver AddressResolver
	Session  session.Config
	Sleep    session.SleepFunc
	Dial     DialFunc
	NewID    func() string
	Metadata *logging.Metadata
	Logger   *zerolog.Logger
}

type Client struct {
	cfg ClientConfig
	log zerolog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.VizType) == "" {
		return nil, ErrVizTypeRequired
	}
	if cfg.Resolver == nil {
		return nil, ErrNoResolver
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, dc channel.DialConfig) (Channel, error) {
			conn, err := channel.Dial(ctx, dc)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Metadata == nil {
		cfg.Metadata = logging.ProcessMetadata()
	}
	log := logging.OrDefault(cfg.Logger).With().Str("component", "stream.client").Logger()
	return &Client{cfg: cfg, log: log}, nil
}

// Connect runs resolve -> connect -> handshake, retrying the whole
// sequence up to the configured ceiling. The last failure is returned as
// final; no further reconnection is attempted.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	var sess *Session
	err := session.Retry(ctx, c.cfg.Session.Retry, c.cfg.Sleep, func(attempt int) error {
		s, err := c.connectOnce(ctx)
		if err != nil {
			c.log.Warn().Int("attempt", attempt).Err(err).Msg("session attempt failed")
			return err
		}
		sess = s
		return nil
	}, func(error) bool { return ctx.Err() != nil })
	if err != nil {
		c.log.Error().Err(err).Msg("stopping all attempts to connect")
		return nil, err
	}
	c.cfg.Metadata.Set("session_id", sess.ID)
	c.cfg.Metadata.Set("worker", sess.Endpoint.Address())
	c.log.Info().Str("viz_type", c.cfg.VizType).Msg("session established")
	return sess, nil
}

func (c *Client) connectOnce(ctx context.Context) (*Session, error) {
	ep, err := c.cfg.Resolver.Resolve(ctx, c.cfg.Query)
	if err != nil {
		return nil, err
	}

	id := c.cfg.NewID()
	tlsCfg, err := c.cfg.Session.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.ConnectTimeout)
	defer cancel()
	ch, err := c.cfg.Dial(dialCtx, channel.DialConfig{
		URL:              c.channelURL(ep, id),
		HandshakeTimeout: c.cfg.Session.ConnectTimeout,
		WriteTimeout:     c.cfg.Session.WriteTimeout,
		TLS:              tlsCfg,
		Logger:           &c.log,
	})
	observability.RecordEstablish("connect", err)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%v)", ErrConnection, msgConnectFailed, err)
	}
	c.log.Debug().Str("worker", ep.Address()).Msg("channel open, sending handshake")

	if err := c.handshake(ctx, ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	client := &http.Client{}
	if tlsCfg != nil {
		client.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}
	return NewSession(ch, id, ep, ep.URL(c.cfg.Session.Scheme), client), nil
}

func (c *Client) handshake(ctx context.Context, ch Channel) error {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.Session.HandshakeTimeout)
	defer cancel()
	raw, err := ch.Request(hctx, protocol.EventHandshake, c.cfg.VizType)
	if err != nil {
		observability.RecordEstablish("handshake", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s (handshake timed out)", ErrConnection, msgConnectFailed)
		}
		return fmt.Errorf("%w: %s (%v)", ErrConnection, msgConnectFailed, err)
	}
	_, err = protocol.DecodeAck(raw).Get(ErrSessionRejected, msgSessionRejected)
	observability.RecordEstablish("handshake", err)
	return err
}

func (c *Client) channelURL(ep protocol.Endpoint, id string) string {
	q := url.Values{}
	for k, vs := range c.cfg.Query {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("id", id)
	u := url.URL{
		Scheme:   c.cfg.Session.ChannelScheme(),
		Host:     ep.Address(),
		Path:     c.cfg.Session.ChannelPath,
		RawQuery: q.Encode(),
	}
	return u.String()
}
