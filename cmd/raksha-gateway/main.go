package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/bezaspace/rak4/pkg/assistant"
	"github.com/bezaspace/rak4/pkg/clinic"
	"github.com/bezaspace/rak4/pkg/core/runtime/gemini"
	"github.com/bezaspace/rak4/pkg/gateway/config"
	"github.com/bezaspace/rak4/pkg/gateway/live/bridge"
	"github.com/bezaspace/rak4/pkg/gateway/live/sessions"
	gatewayserver "github.com/bezaspace/rak4/pkg/gateway/server"
	"github.com/bezaspace/rak4/pkg/gateway/telemetry"
	"github.com/bezaspace/rak4/pkg/profile"
	"github.com/bezaspace/rak4/pkg/schedule"
	"github.com/bezaspace/rak4/pkg/store/postgres"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	newConnector func(context.Context, config.Config, *slog.Logger) (assistant.Connector, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:   config.LoadFromEnv,
		newConnector: newGeminiConnector,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newGeminiConnector(ctx context.Context, cfg config.Config, logger *slog.Logger) (assistant.Connector, error) {
	backend, err := gemini.New(ctx, gemini.Config{
		APIKey:        cfg.GeminiAPIKey,
		LiveModel:     cfg.LiveModel,
		FallbackModel: cfg.FallbackModel,
	}, logger)
	if err != nil {
		return nil, err
	}
	return assistant.GeminiConnector{Backend: backend}, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// stores holds the optional backing services. pool is nil without a
// database.
type stores struct {
	pool     *pgxpool.Pool
	profiles *profile.Service
	schedule *schedule.Service
}

func (s stores) close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		return openLocalStores(cfg, logger)
	}

	pool, err := postgres.Open(ctx, postgres.Config{URL: cfg.DatabaseURL, MaxConns: cfg.DatabaseMaxConns})
	if err != nil {
		return stores{}, err
	}
	out := stores{pool: pool}
	if err := postgres.Migrate(ctx, pool, logger); err != nil {
		out.close()
		return stores{}, err
	}

	out.profiles, err = profile.NewService(profile.NewPostgresRepository(pool), profile.SourceDB, logger)
	if err != nil {
		out.close()
		return stores{}, err
	}
	out.schedule, err = schedule.NewService(schedule.NewPostgresStore(pool), logger)
	if err != nil {
		out.close()
		return stores{}, err
	}
	return out, nil
}

func openLocalStores(cfg config.Config, logger *slog.Logger) (stores, error) {
	var out stores
	if cfg.ProfilePath != "" {
		repo, err := profile.LoadFile(cfg.ProfilePath)
		if err != nil {
			return stores{}, err
		}
		out.profiles, err = profile.NewService(repo, profile.SourceFile, logger)
		if err != nil {
			return stores{}, err
		}
	}

	items, err := schedule.SeedItems(schedule.DefaultUserID)
	if err != nil {
		return stores{}, err
	}
	out.schedule, err = schedule.NewService(schedule.NewMemoryStore(items...), logger)
	if err != nil {
		return stores{}, err
	}
	logger.Info("using in-memory schedule store", "items", len(items))
	return out, nil
}

func runGateway(ctx context.Context, stderr io.Writer, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newConnector == nil {
		return errors.New("missing newConnector dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer st.close()

	catalog, err := clinic.LoadCatalog(cfg.DoctorCatalogPath)
	if err != nil {
		return fmt.Errorf("load doctor catalog: %w", err)
	}

	connector, err := deps.newConnector(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init gemini: %w", err)
	}
	rt, err := assistant.New(assistant.Dependencies{
		Connector: connector,
		Catalog:   catalog,
		Profiles:  st.profiles,
		Schedule:  st.schedule,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("init assistant: %w", err)
	}

	liveSessions := sessions.NewTracker()
	metrics := telemetry.NewMetrics(cfg.AppName, liveSessions.Count)
	live, err := bridge.New(bridge.Dependencies{
		Runtime: rt,
		Logger:  logger,
		Config: bridge.Config{
			MaxAudioFrameBytes: cfg.LiveMaxAudioFrameBytes,
			WriteTimeout:       cfg.LiveWSWriteTimeout,
			PingInterval:       cfg.LiveWSPingInterval,
			FallbackTimeout:    cfg.FallbackTimeout,
		},
		Metrics:  metrics,
		RiskHint: assistant.ContainsUrgentRiskHint,
	})
	if err != nil {
		return fmt.Errorf("init bridge: %w", err)
	}

	serverDeps := gatewayserver.Dependencies{
		Bridge:       live,
		Schedule:     st.schedule,
		LiveSessions: liveSessions,
		Metrics:      metrics,
	}
	if st.pool != nil {
		serverDeps.DB = st.pool
	}
	gw := gatewayserver.New(cfg, logger, serverDeps)

	httpSrv := buildHTTPServer(cfg, gw.Handler())
	logger.Info("starting gateway", "addr", cfg.Addr, "live_model", cfg.LiveModel, "database", st.pool != nil)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown requested", "reason", ctx.Err())
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := gw.Drain(shutdownCtx, httpSrv); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "raksha-gateway: load .env: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "raksha-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
