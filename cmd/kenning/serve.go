package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/metrics"
	"github.com/HendryAvila/kenning/internal/server"
	"github.com/HendryAvila/kenning/internal/watch"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		metricsAddr string
		watchInbox  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		Long: `Start the MCP server on stdin/stdout. Logs go to stderr.

Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "kenning": {
        "command": "kenning",
        "args": ["serve"]
      }
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withEngine(cmd, func(e *engine.Engine, log *zap.Logger) error {
				addr := metricsAddr
				if addr == "" {
					addr = e.Config().MetricsAddr
				}
				return serve(cmd.Context(), e, log, addr, watchInbox)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	cmd.Flags().BoolVar(&watchInbox, "watch", false, "also ingest handoff files dropped in the inbox")
	return cmd
}

func serve(ctx context.Context, e *engine.Engine, log *zap.Logger, metricsAddr string, watchInbox bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchInbox {
		w := newWatcher(e, log)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// The stdio transport ends on EOF; take the rest of the group down with it.
		defer stop()
		stdio := mcpserver.NewStdioServer(server.New(e))
		stdio.SetErrorLogger(zap.NewStdLog(log))
		log.Info("mcp server started", zap.String("version", server.Version))
		err := stdio.Listen(gctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// newWatcher builds the inbox watcher that feeds handoff files to e.
func newWatcher(e *engine.Engine, log *zap.Logger) *watch.Watcher {
	cfg := e.Config()
	return watch.New(cfg.InboxDir, e, e.Tracker(),
		watch.WithLogger(log),
		watch.WithPersist(e.Persist()),
	)
}
