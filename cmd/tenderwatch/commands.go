package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roldanp/tenderwatch/internal/api"
	"github.com/roldanp/tenderwatch/internal/audit"
	"github.com/roldanp/tenderwatch/internal/backfill"
	"github.com/roldanp/tenderwatch/internal/config"
	"github.com/roldanp/tenderwatch/internal/dispatch"
	"github.com/roldanp/tenderwatch/internal/flags"
	"github.com/roldanp/tenderwatch/internal/metrics"
	"github.com/roldanp/tenderwatch/internal/retrieval"
	"github.com/roldanp/tenderwatch/internal/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "tenderwatch",
	Short:   "Derived-fact maintenance for procurement records",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd, backfillCmd, recomputeCmd, queueCmd)

	recomputeCmd.Flags().Bool("all", false, "recompute every tender")
	recomputeCmd.Flags().Int("limit", 0, "limit for --all runs")
	queueCmd.Flags().Bool("drain", false, "drain pending items once and exit")
}

// app bundles the wired collaborators the commands share.
type app struct {
	cfg        config.Config
	store      *storage.Store
	evaluator  *flags.Evaluator
	dispatcher *dispatch.Dispatcher
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	evaluator := flags.NewEvaluator(store, cfg.Rules.GapThresholdDays)

	dispatcher := dispatch.New(store, store)
	recompute := func(tenderID int64, _ string) error {
		return evaluator.ComputeGapFlag(tenderID, audit.Context{Actor: "dispatcher"})
	}
	dispatcher.Subscribe(dispatch.KeymapWrite, recompute)
	if cfg.Queue.AsyncCalendar {
		dispatcher.SubscribeQueued(dispatch.CalendarWrite)
	} else {
		dispatcher.Subscribe(dispatch.CalendarWrite, recompute)
	}

	return &app{cfg: cfg, store: store, evaluator: evaluator, dispatcher: dispatcher}, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the queue-draining worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Queue consumer runs alongside the server when calendar writes are
		// deferred; otherwise there is nothing to drain.
		if a.cfg.Queue.AsyncCalendar {
			worker := dispatch.NewWorker(a.store, a.evaluator, audit.Context{Actor: "worker"}, a.cfg.Queue.PollInterval)
			go worker.Run(ctx)
		}

		handler := api.NewHandler(api.AppDeps{
			Store:      a.store,
			Dispatcher: a.dispatcher,
			Evaluator:  a.evaluator,
			Searcher:   retrieval.NewSearcher(a.store.DB(), a.cfg.Vectors.Dimensions),
			Token:      a.cfg.Server.Token,
		})

		addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
		srv := &http.Server{
			Addr:    addr,
			Handler: handler,
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}

		errCh := make(chan error, 1)
		go func() {
			fmt.Fprintf(os.Stdout, "tenderwatch listening on %s\n", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stdout, "shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill native embedding vectors from legacy serialized text",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.store.Close()

		stats, err := backfill.New(a.store.DB(), a.cfg.Vectors.Dimensions).Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "backfill done: parsed=%d skipped_malformed=%d skipped_dimension=%d\n",
			stats.Parsed, stats.SkippedMalformed, stats.SkippedDimension)
		return nil
	},
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute [tender-id]",
	Short: "Recompute all flag rules for one tender or for all tenders",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")
		if !all && len(args) != 1 {
			return fmt.Errorf("pass a tender id or --all")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.store.Close()

		ac := audit.System()
		if all {
			ids, err := a.store.ListTenderIDs(limit)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := a.evaluator.ComputeFlags(id, ac); err != nil {
					return fmt.Errorf("recomputing tender %d: %w", id, err)
				}
				metrics.Recomputations.WithLabelValues("batch").Inc()
			}
			fmt.Fprintf(os.Stdout, "recomputed %d tenders\n", len(ids))
			return nil
		}

		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid tender id %q", args[0])
		}
		return a.evaluator.ComputeFlags(id, ac)
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or drain the recompute queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		drain, _ := cmd.Flags().GetBool("drain")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.store.Close()

		if drain {
			worker := dispatch.NewWorker(a.store, a.evaluator, audit.Context{Actor: "worker"}, 0)
			total := 0
			for {
				n, err := worker.RunOnce()
				if err != nil {
					return err
				}
				if n == 0 {
					break
				}
				total += n
			}
			fmt.Fprintf(os.Stdout, "drained %d items\n", total)
			return nil
		}

		depth, err := a.store.QueueDepth()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "pending items: %d\n", depth)
		return nil
	},
}
