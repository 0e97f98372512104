package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ib-77/procq/internal/config"
	"github.com/ib-77/procq/internal/logging"
	"github.com/ib-77/procq/pkg/procq"
)

// job is the demo payload. Every callback stamps it once.
type job struct {
	Producer int
	Seq      int
	Stamps   int
}

// summary is what a run reports once the queue has drained.
type summary struct {
	Pushed    int64
	Rejected  int64
	Processed uint64
	Complete  int64
}

func runCmd(v *viper.Viper, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Push jobs from concurrent producers through a callback queue",
		Long: `run starts a queue with the configured number of callbacks, lets the
producers push their jobs concurrently, then stops the queue and waits until
every accepted job has passed through all callbacks.

Examples:
  procq run --producers 8 --items 10000
  procq run --callbacks 10 --http-addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.Log.Logging())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := run(ctx, cfg, logger)
			if err != nil {
				return err
			}

			logger.Info("run finished",
				zap.Int64("pushed", s.Pushed),
				zap.Int64("rejected", s.Rejected),
				zap.Uint64("processed", s.Processed),
				zap.Int64("complete", s.Complete))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("queue", "", "queue name used in logs and metrics")
	flags.Int("producers", 0, "number of concurrent producers")
	flags.Int("items", 0, "jobs pushed by each producer")
	flags.Int("callbacks", 0, "callbacks installed on the queue (max 10)")
	flags.Duration("shutdown-timeout", 0, "how long to wait for the queue to drain")
	flags.String("http-addr", "", "serve /metrics, /healthz and /stats on this address")

	_ = v.BindPFlag("run.queue", flags.Lookup("queue"))
	_ = v.BindPFlag("run.producers", flags.Lookup("producers"))
	_ = v.BindPFlag("run.items", flags.Lookup("items"))
	_ = v.BindPFlag("run.callbacks", flags.Lookup("callbacks"))
	_ = v.BindPFlag("run.shutdown_timeout", flags.Lookup("shutdown-timeout"))
	_ = v.BindPFlag("http.addr", flags.Lookup("http-addr"))

	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (summary, error) {
	var s summary

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	var complete atomic.Int64
	want := cfg.Run.Callbacks

	callbacks := make([]procq.Callback[job], 0, procq.MaxCallbacks)
	for i := 0; i < want; i++ {
		callbacks = append(callbacks, func(j *job) { j.Stamps++ })
	}

	// a job counts as complete once every stamping callback has seen it
	tally := func(j *job) {
		if j.Stamps == want {
			complete.Add(1)
		}
	}
	if len(callbacks) < procq.MaxCallbacks {
		callbacks = append(callbacks, tally)
	} else {
		last := len(callbacks) - 1
		callbacks[last] = procq.Compose(callbacks[last], tally)
	}

	q, err := procq.NewWithOptions(procq.Options{
		Name:       cfg.Run.Queue,
		Logger:     logger,
		Registerer: reg,
	}, callbacks...)
	if err != nil {
		return s, err
	}

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           newRouter(q, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", zap.Error(err))
			}
		}()
	}

	var pushed, rejected atomic.Int64
	var wg sync.WaitGroup
	wg.Add(cfg.Run.Producers)
	for p := 0; p < cfg.Run.Producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < cfg.Run.Items; i++ {
				if ctx.Err() != nil {
					return
				}
				if err := q.Push(job{Producer: p, Seq: i}); err != nil {
					rejected.Add(1)
					continue
				}
				pushed.Add(1)
			}
		}(p)
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Run.ShutdownTimeout)
	defer cancel()

	stopErr := q.Shutdown(shutdownCtx)

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", zap.Error(err))
		}
	}

	s = summary{
		Pushed:    pushed.Load(),
		Rejected:  rejected.Load(),
		Processed: q.Processed(),
		Complete:  complete.Load(),
	}
	if stopErr != nil {
		return s, fmt.Errorf("queue did not drain: %w", stopErr)
	}
	return s, nil
}
