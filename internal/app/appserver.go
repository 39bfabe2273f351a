package app

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"btcproxy/internal/core/counters"
	"btcproxy/internal/core/handler"
	"btcproxy/internal/core/health"
	"btcproxy/internal/core/recovery"
	"btcproxy/internal/core/stats"
	"btcproxy/internal/core/supervisor"
	"btcproxy/internal/service/web"
	"btcproxy/internal/shared/logger"
	"btcproxy/internal/shared/types"
	"btcproxy/internal/upstream"
)

// shutdownGrace bounds how long Run waits for in-flight requests on exit.
const shutdownGrace = 10 * time.Second

// AppServer is the application's main struct.
type AppServer struct {
	cfg        *types.Config
	counters   *counters.Counters
	supervisor *supervisor.Supervisor
	reporter   *stats.Reporter
	health     *health.Checker
	web        *web.Server
}

// New wires every component from cfg. Nothing is started until Run.
func New(cfg *types.Config) (*AppServer, error) {
	client, err := upstream.New(upstream.Endpoint{
		Host:     cfg.NetConf.DestIP,
		Port:     cfg.NetConf.DestPort,
		User:     cfg.NetConf.DestUser,
		Password: cfg.NetConf.DestPassword,
		Socks5:   cfg.NetConf.DestSocks5,
	}, time.Duration(cfg.NetConf.RequestTimeout)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	c := counters.New()
	rec := recovery.New(client, c, recovery.PolicyFromConfig(cfg.AppConf))
	h := handler.New(client, rec, c, handler.Options{ForwardVerbosity: cfg.AppConf.ForwardVerbosity})
	sup := supervisor.New()

	s := &AppServer{
		cfg:        cfg,
		counters:   c,
		supervisor: sup,
		health:     health.New(client),
		reporter: stats.NewReporter(c, sup.InFlight,
			time.Duration(cfg.AppConf.StatsInterval)*time.Second,
			time.Duration(cfg.AppConf.IdleStatsInterval)*time.Second,
			cfg.AppConf.LogWithEmojis),
		web: web.NewServer(
			net.JoinHostPort(cfg.NetConf.ListenIP, strconv.Itoa(cfg.NetConf.ListenPort)),
			sup, h, cfg.NetConf.ListenUser, cfg.NetConf.ListenPassword),
	}
	return s, nil
}

// Run binds the listener and serves until ctx is cancelled, then drains
// in-flight requests for at most shutdownGrace.
func (s *AppServer) Run(ctx context.Context) error {
	if err := s.web.Listen(); err != nil {
		return err
	}
	logger.Info().
		Str("upstream", net.JoinHostPort(s.cfg.NetConf.DestIP, strconv.Itoa(s.cfg.NetConf.DestPort))).
		Int("wait_for_download", s.cfg.AppConf.WaitForDownload).
		Msgf("Starting proxy on %s", s.web.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.web.Serve)
	g.Go(func() error {
		s.health.Check(gctx)
		return nil
	})
	g.Go(func() error { return s.reporter.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Stopping server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.web.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Web server did not shut down cleanly.")
		}
		if err := s.supervisor.Wait(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Abandoning unfinished request tasks.")
		}
		return nil
	})

	err := g.Wait()
	s.reporter.Report()
	return err
}

// Addr returns the address the proxy listens on.
func (s *AppServer) Addr() string {
	return s.web.Addr()
}

// Snapshot returns the current counter values.
func (s *AppServer) Snapshot() types.StatsSnapshot {
	return s.reporter.Snapshot()
}
