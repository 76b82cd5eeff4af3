package vncconnect

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vncconnect/internal/config"
	"pkt.systems/vncconnect/internal/credential"
	"pkt.systems/vncconnect/internal/permission"
	"pkt.systems/vncconnect/internal/policy"
	"pkt.systems/vncconnect/internal/registry"
	"pkt.systems/vncconnect/internal/relay"
	"pkt.systems/vncconnect/internal/server"
	"pkt.systems/vncconnect/internal/tunnel"
)

// ServeOptions configures the signaling server run.
type ServeOptions struct {
	Config Config
	Logger pslog.Logger
}

// Serve runs the VNCConnect signaling server until ctx is cancelled.
func Serve(ctx context.Context, opts ServeOptions) error {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}

	base, err := server.NormalizeBasePath(cfg.Server.BasePath)
	if err != nil {
		return err
	}
	location, err := loadLocation(cfg.Server.Timezone)
	if err != nil {
		return err
	}

	credentialTTL := parseDurationOr(cfg.Session.CredentialTTL, credential.DefaultTTL)
	idleSuspend := parseDurationOr(cfg.Session.IdleSuspend, registry.DefaultIdleSuspend)
	suspendClose := parseDurationOr(cfg.Session.SuspendClose, registry.DefaultSuspendClose)
	bindTimeout := parseDurationOr(cfg.Session.BindTimeout, tunnel.DefaultBindTimeout)

	store, err := relay.LoadStore(cfg.Server.DataDir)
	if err != nil {
		return err
	}
	users, err := relay.LoadUserStore(cfg.Server.UsersFile)
	if err != nil {
		return err
	}
	profiles, err := permission.LoadStore(cfg.Server.ProfilesFile)
	if err != nil {
		return err
	}

	reg := registry.NewRegistry(idleSuspend, suspendClose, logger.With("component", "registry"))
	broker := tunnel.NewBroker(bindTimeout, logger.With("component", "tunnels"))
	issuer := credential.NewIssuer(logger.With("component", "credentials"))
	engine := policy.NewEngine(location, logger.With("component", "policy"))
	hub := relay.NewHub(reg, broker, relay.NewMetrics(), logger.With("component", "relay-hub"))

	// Session close cascades: drop outstanding codes, tunnels, and client
	// tokens. The hub registers its own teardown hook in NewHub.
	reg.OnClose(func(sessionID, _ string) {
		issuer.Revoke(sessionID)
		broker.CloseSession(sessionID)
		store.RevokeClientTokensForSession(sessionID)
	})

	relayServer := &relay.HTTPServer{
		Store:         store,
		Users:         users,
		Authenticator: relay.NewAuthenticator(users),
		Profiles:      profiles,
		Issuer:        issuer,
		Registry:      reg,
		Broker:        broker,
		Policy:        engine,
		Hub:           hub,
		Logger:        logger.With("component", "relay"),
		DataDir:       cfg.Server.DataDir,
		UsersFile:     cfg.Server.UsersFile,
		ProfilesFile:  cfg.Server.ProfilesFile,
		CredentialTTL: credentialTTL,
	}

	if err := relay.StartUserReloadLoop(ctx, cfg.Server.UsersFile, users, logger.With("component", "user-watch")); err != nil {
		logger.Warn("user reload loop disabled", "err", err)
	}
	issuer.StartSweepLoop(ctx, time.Minute)
	reg.StartMonitor(ctx, 5*time.Second)
	hub.StartRetryLoop(ctx, 2*time.Second)

	handler := server.WrapBasePath(base, relayServer.Handler())
	handler = server.AccessLog(logger.With("component", "access"), handler)
	srv := server.New(server.Config{
		ListenAddr: cfg.Server.Listen,
		BasePath:   base,
		CertFile:   cfg.Server.TLS.CertFile,
		KeyFile:    cfg.Server.TLS.KeyFile,
		Logger:     logger.With("component", "http"),
		// No ReadTimeout/WriteTimeout: relay websockets are long-lived.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}, handler)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	tlsEnabled := cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != ""
	logger.Info("starting server", "listen", cfg.Server.Listen, "base", base, "tls", tlsEnabled)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	switch name {
	case "", config.DefaultTimezone:
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
