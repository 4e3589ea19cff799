package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pavelaron/pi-extender/internal/auth/credentials"
	"github.com/pavelaron/pi-extender/internal/auth/token"
	"github.com/pavelaron/pi-extender/internal/config"
	"github.com/pavelaron/pi-extender/internal/lockfile"
	"github.com/pavelaron/pi-extender/internal/logging"
	"github.com/pavelaron/pi-extender/internal/metrics"
	"github.com/pavelaron/pi-extender/internal/server"
	"github.com/pavelaron/pi-extender/internal/shell"
	"github.com/pavelaron/pi-extender/internal/store"
	"github.com/pavelaron/pi-extender/internal/wireless"
)

const shutdownTimeout = 10 * time.Second

// app holds the long-lived handles shared by the subcommands.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	lock    *lockfile.Lock
	store   store.Store
	metrics *metrics.Metrics
	orch    *wireless.Orchestrator
}

func loadConfig() config.Config {
	cfg := config.Load(cfgFile)
	if dryRun {
		cfg.DryRun = true
	}
	return cfg
}

func openApp(cfg config.Config) (*app, error) {
	log := logging.New(cfg)
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	lock, err := lockfile.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.StoreDriver, filepath.Join(cfg.DataDir, "settings"), log)
	if err != nil {
		lock.Release()
		return nil, err
	}
	m := metrics.New()
	run := shell.NewExecutor(cfg.DryRun, cfg.CommandTimeout, log)
	orch := wireless.New(st, run, m, log)
	orch.RebootDelay = cfg.RebootDelay
	return &app{cfg: cfg, log: log, lock: lock, store: st, metrics: m, orch: orch}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error().Err(err).Msg("close store")
	}
	a.lock.Release()
}

// reconcile runs the startup reconciliation. Step failures are logged by
// the orchestrator and never stop the daemon.
func (a *app) reconcile(ctx context.Context) error {
	rep, err := a.orch.Reconcile(ctx)
	if err != nil {
		a.metrics.Reconciled("startup", 1)
		return err
	}
	a.metrics.Reconciled("startup", rep.Failures())
	if a.cfg.RedirectHTTP {
		if port := a.cfg.Port(); port > 0 && port != 80 {
			if _, err := a.orch.RedirectHTTP(ctx, port); err != nil {
				a.log.Warn().Err(err).Msg("install http redirect")
			}
		}
	}
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Reconcile the radio and serve the admin interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(loadConfig())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if os.Getenv(a.cfg.SessionSecretEnv) == "" {
		a.log.Warn().Str("env", a.cfg.SessionSecretEnv).Msg("session secret is not set; every request will be rejected until it is")
	}
	if err := a.reconcile(ctx); err != nil {
		return err
	}

	if a.cfg.ReconcileSchedule != "" {
		sched, err := wireless.NewScheduler(a.cfg.ReconcileSchedule, a.orch, a.metrics, a.log)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	tokens := token.NewManager(token.EnvSecret(a.cfg.SessionSecretEnv), a.cfg.SessionTTL)
	h, err := server.NewRouter(server.Options{
		Config:      a.cfg,
		Store:       a.store,
		Tokens:      tokens,
		Credentials: credentials.New(a.store, a.log),
		Wireless:    a.orch,
		Metrics:     a.metrics,
		Logger:      a.log,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Bind,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info().Msgf("extenderd listening on http://%s", a.cfg.Bind)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	a.log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run the startup reconciliation once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(loadConfig())
			if err != nil {
				return err
			}
			defer a.Close()
			rep, err := a.orch.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.String())
			if n := rep.Failures(); n > 0 {
				return fmt.Errorf("%d step(s) failed", n)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "extenderd %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
		},
	}
}
