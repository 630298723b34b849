package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danmuck/vizlink/internal/config"
	"github.com/danmuck/vizlink/internal/logging"
	"github.com/danmuck/vizlink/internal/observability"
	"github.com/danmuck/vizlink/internal/render"
	"github.com/danmuck/vizlink/internal/resolver"
	"github.com/danmuck/vizlink/internal/stream"
)

type runFlags struct {
	configPath  string
	vizaddr     string
	vizType     string
	params      map[string]string
	frames      int
	metricsAddr string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to a worker and stream frames into a headless scene",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.resolve()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, f.frames, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "client config file (TOML)")
	cmd.Flags().StringVar(&f.vizaddr, "vizaddr", "", "address routing service base URL")
	cmd.Flags().StringVar(&f.vizType, "viz-type", "", "session type sent in the handshake")
	cmd.Flags().StringToStringVarP(&f.params, "param", "p", nil, "worker parameter key=value (repeatable)")
	cmd.Flags().IntVar(&f.frames, "frames", 0, "exit after this many rendered frames (0 streams until the session ends)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func (f runFlags) resolve() (config.ClientConfig, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	if f.vizaddr != "" {
		cfg.VizaddrURL = f.vizaddr
	}
	if f.vizType != "" {
		cfg.VizType = f.vizType
	}
	for k, v := range f.params {
		cfg.WorkerParams[k] = v
	}
	if f.metricsAddr != "" {
		cfg.MetricsAddr = f.metricsAddr
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.ClientConfig, frames int, out io.Writer) error {
	logger := logging.ConfigureRuntime(cfg.LogLevel, cfg.LogFile)

	if cfg.MetricsAddr != "" {
		srv := metricsServer(cfg.MetricsAddr, logger)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	res, err := resolver.New(resolver.Config{
		BaseURL: cfg.VizaddrURL,
		Retry:   cfg.Session.Retry,
		Logger:  &logger,
	})
	if err != nil {
		return err
	}
	client, err := stream.NewClient(stream.ClientConfig{
		VizType:  cfg.VizType,
		Query:    resolver.WorkerQuery(cfg.WorkerParams),
		Resolver: res,
		Session:  cfg.Session,
		Metadata: logging.ProcessMetadata(),
		Logger:   &logger,
	})
	if err != nil {
		return err
	}
	sess, err := client.Connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	state, err := stream.CreateRenderer(ctx, sess, render.Headless{Logger: &logger})
	if err != nil {
		return err
	}
	engine := stream.NewEngine(sess, state, stream.EngineOptions{
		RenderOutOfOrder: !cfg.DropStaleFrames,
		Logger:           &logger,
	})
	markers, unsubscribe := engine.Start()
	defer unsubscribe()

	rendered := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("interrupted")
			return nil
		case m, ok := <-markers:
			if !ok {
				return errors.New("session ended")
			}
			fmt.Fprintf(out, "epoch=%d step=%d stage=%s partial=%t\n", m.Epoch, m.Step, m.Stage, m.IsPartial)
			if m.Stage != stream.StageRendered {
				continue
			}
			rendered++
			if frames > 0 && rendered >= frames {
				if hs, ok := state.(*render.State); ok {
					fmt.Fprintln(out, hs.Summary())
				}
				return nil
			}
		}
	}
}

func metricsServer(addr string, logger zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestObserver("vizlinkctl", logger, "/metrics"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
