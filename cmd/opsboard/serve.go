package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opsboard/opsboard/internal/config"
	"github.com/opsboard/opsboard/internal/frontend"
	"github.com/opsboard/opsboard/internal/hotreload"
	"github.com/opsboard/opsboard/internal/logging"
	"github.com/opsboard/opsboard/internal/mock"
	"github.com/opsboard/opsboard/internal/session"
	"github.com/opsboard/opsboard/internal/state"
	"github.com/opsboard/opsboard/internal/status"
	"github.com/opsboard/opsboard/internal/tools"
	"github.com/opsboard/opsboard/internal/ws"
)

var (
	serveDev  bool
	servePort int
	serveMock bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "Development mode (serve frontend from disk, hot reload)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Override server port")
	serveCmd.Flags().BoolVar(&serveMock, "mock", false, "Generate simulated sessions and tool calls")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveDev {
		cfg.Server.DevMode = true
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	initLogging(cfg)
	log := logging.Component("main")
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := state.New(state.Options{
		LedgerCapacity: cfg.State.LedgerCapacity,
		QueueSize:      cfg.State.EventQueueSize,
		Version:        Version,
	})
	defer st.Close()

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, cfg.Tools.Root); err != nil {
		return err
	}
	st.UpdateStatus(func(s status.Status) status.Status {
		s.ToolCount = uint(registry.Len())
		return s
	})

	sampler := status.NewSampler(cfg.Status.SampleInterval)
	staticDir := ""
	if cfg.Server.DevMode {
		staticDir = devStaticDir()
		log.Info().Str("dir", staticDir).Msg("serving frontend from disk")
	}
	srv := ws.NewServer(ws.Options{
		Config:   cfg,
		State:    st,
		Tools:    registry,
		Executor: tools.NewExecutor(registry, st),
		Sampler:  sampler,
		Frontend: frontend.Handler(staticDir),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx, cfg.Addr()) })

	sweeper := session.NewSweeper(st.Sessions, cfg.Sessions.IdleTimeout, cfg.Sessions.SweepInterval, st.SessionExpired)
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error { return sampler.Run(ctx) })

	if cfg.Server.DevMode || cfg.HotReload.Enabled {
		if err := startHotReload(ctx, g, cfg, st); err != nil {
			log.Warn().Err(err).Msg("hot reload disabled")
		}
	}
	if serveMock {
		gen := mock.NewGenerator(st, mock.DefaultInterval)
		g.Go(func() error { return gen.Run(ctx) })
	}

	log.Info().
		Str("version", Version).
		Str("addr", cfg.Addr()).
		Bool("dev", cfg.Server.DevMode).
		Bool("mock", serveMock).
		Msg("opsboard starting")

	err = g.Wait()
	log.Info().Msg("opsboard stopped")
	return err
}

func startHotReload(ctx context.Context, g *errgroup.Group, cfg *config.Config, st *state.State) error {
	pubsub := hotreload.NewPubSub(logging.Component("hotreload"))
	watcher, err := hotreload.NewWatcher(cfg.HotReload.Paths, cfg.HotReload.Debounce, pubsub)
	if err != nil {
		pubsub.Close()
		return err
	}
	relay := hotreload.NewRelay(pubsub, st)

	g.Go(func() error { return relay.Run(ctx) })
	g.Go(func() error {
		defer pubsub.Close()
		return watcher.Run(ctx)
	})
	return nil
}

// devStaticDir finds the frontend sources from the repo root or from the
// command's own directory under go run.
func devStaticDir() string {
	for _, dir := range []string{
		filepath.Join("internal", "frontend", "static"),
		filepath.Join("..", "..", "internal", "frontend", "static"),
	} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
