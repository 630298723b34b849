// Package resolver asks the front door which worker should serve a session.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/vizlink/internal/logging"
	"github.com/danmuck/vizlink/internal/observability"
	"github.com/danmuck/vizlink/internal/protocol"
	"github.com/danmuck/vizlink/internal/protocol/session"
)

var (
	ErrAddressResolution = errors.New("resolver: address resolution failed")
	ErrBaseURLRequired   = errors.New("resolver: base url required")
)

const (
	DefaultPath           = "/vizaddr/graph"
	DefaultFailureMessage = "cannot connect to visualization server"

	maxReplyBytes = 64 * 1024
)

// WorkerParams are the client parameters forwarded to the worker.
var WorkerParams = []string{"dataset", "scene", "device", "controls", "mapper", "type", "vendor", "usertag"}

type Config struct {
	BaseURL    string
	Path       string
	Retry      session.RetryConfig
	Sleep      session.SleepFunc
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

type Resolver struct {
	endpoint string
	retry    session.RetryConfig
	sleep    session.SleepFunc
	client   *http.Client
	log      zerolog.Logger
}

func New(cfg Config) (*Resolver, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrBaseURLRequired
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("resolver: parse base url: %w", err)
	}
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = session.DefaultRetryConfig()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{
		endpoint: base + path,
		retry:    cfg.Retry,
		sleep:    cfg.Sleep,
		client:   cfg.HTTPClient,
		log:      logging.OrDefault(cfg.Logger).With().Str("component", "resolver").Logger(),
	}, nil
}

// Resolve returns the worker endpoint for query, retrying per the
// configured policy and surfacing the last error.
func (r *Resolver) Resolve(ctx context.Context, query url.Values) (protocol.Endpoint, error) {
	var ep protocol.Endpoint
	err := session.Retry(ctx, r.retry, r.sleep, func(attempt int) error {
		r.log.Debug().Int("attempt", attempt).Str("url", r.endpoint).Msg("asking for worker address")
		got, err := r.resolveOnce(ctx, query)
		observability.RecordEstablish("resolve", err)
		if err != nil {
			r.log.Warn().Int("attempt", attempt).Err(err).Msg("worker address request failed")
			return err
		}
		ep = got
		return nil
	}, func(error) bool { return ctx.Err() != nil })
	if err != nil {
		return protocol.Endpoint{}, err
	}
	ev := r.log.Info().Str("worker", ep.Address())
	if ep.Timestamp > 0 {
		routed := time.Duration(float64(time.Now().UnixMilli())-ep.Timestamp) * time.Millisecond
		ev = ev.Dur("routing_latency", routed)
	}
	ev.Msg("routed to worker")
	return ep, nil
}

func (r *Resolver) resolveOnce(ctx context.Context, query url.Values) (protocol.Endpoint, error) {
	target := r.endpoint
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return protocol.Endpoint{}, fmt.Errorf("%w: %v", ErrAddressResolution, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return protocol.Endpoint{}, ctx.Err()
		}
		return protocol.Endpoint{}, fmt.Errorf("%w: %s (%v)", ErrAddressResolution, DefaultFailureMessage, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return protocol.Endpoint{}, fmt.Errorf("%w: %s (%v)", ErrAddressResolution, DefaultFailureMessage, err)
	}
	res := protocol.DecodeEndpoint(body)
	if resp.StatusCode/100 != 2 && res.OK() {
		res = protocol.Err[protocol.Endpoint]("")
	}
	return res.Get(ErrAddressResolution, DefaultFailureMessage)
}

// WorkerQuery builds the resolver/channel query from client parameters.
// "datasetname" is accepted as an alias for "dataset"; unset parameters
// are omitted.
func WorkerQuery(params map[string]string) url.Values {
	q := url.Values{}
	dataset, ok := params["dataset"]
	if legacy, hasLegacy := params["datasetname"]; hasLegacy {
		dataset, ok = legacy, true
	}
	for _, name := range WorkerParams {
		v, present := params[name]
		if name == "dataset" {
			v, present = dataset, ok
		}
		if !present || strings.TrimSpace(v) == "" {
			continue
		}
		q.Set(name, v)
	}
	return q
}
