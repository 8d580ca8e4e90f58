package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/tsarna/callsec/pkg/realtime/auth"
	"github.com/tsarna/callsec/pkg/realtime/config"
	"github.com/tsarna/callsec/pkg/realtime/otel"
	"github.com/tsarna/callsec/pkg/realtime/websockets/server"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the development push server",
	Long: `Run a server that speaks the real-time protocol: clients connect to /ws
and authenticate with a token issued by POST /token, events are
published with POST /events/{category} and pushed to every
authenticated client. Schedules from the config push events on a
cron timetable.

Examples:
  callsec serve --secret dev --user reception:hunter2
  callsec serve -c server.hcl --listen 127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveListen       string
	serveSecret       string
	serveIssuer       string
	serveUsers        []string
	serveOrigins      []string
	serveTokenTTL     time.Duration
	serveAuthTimeout  time.Duration
	servePingInterval time.Duration
	serveShutdownWait time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", config.DefaultListen, "address to listen on")
	serveCmd.Flags().StringVar(&serveSecret, "secret", "", "HMAC secret used to sign and verify tokens")
	serveCmd.Flags().StringVar(&serveIssuer, "issuer", "", "iss claim of issued tokens")
	serveCmd.Flags().StringArrayVar(&serveUsers, "user", nil, "name:password allowed to log in (repeatable)")
	serveCmd.Flags().StringArrayVar(&serveOrigins, "origin", nil, "allowed cross-origin host pattern (repeatable)")
	serveCmd.Flags().DurationVar(&serveTokenTTL, "token-ttl", 0, "lifetime of issued tokens")
	serveCmd.Flags().DurationVar(&serveAuthTimeout, "auth-timeout", 0, "time a connection has to authenticate")
	serveCmd.Flags().DurationVar(&servePingInterval, "ping-interval", 0, "WebSocket ping interval")
	serveCmd.Flags().DurationVar(&serveShutdownWait, "shutdown-timeout", 10*time.Second, "how long to wait for connections on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	def := cfg.Server
	if def == nil {
		def = &config.ServerDefinition{Listen: config.DefaultListen}
	}
	listen := pick(cmd, "listen", serveListen, def.Listen)
	secret := pick(cmd, "secret", serveSecret, def.Secret)
	issuerName := pick(cmd, "issuer", serveIssuer, def.Issuer)

	if secret == "" {
		return errors.New("a signing secret is required, use --secret or a server block")
	}

	users := auth.Users{}
	for name, password := range def.Users {
		users[name] = password
	}
	for _, spec := range serveUsers {
		name, password, err := auth.ParseUser(spec)
		if err != nil {
			return err
		}
		users[name] = password
	}

	issuerBuilder := auth.NewIssuer().
		WithSecret([]byte(secret)).
		WithTTL(durationFlag(cmd, "token-ttl", serveTokenTTL, def.TokenTTLDuration))
	if issuerName != "" {
		issuerBuilder = issuerBuilder.WithIssuer(issuerName)
	}
	issuer, err := issuerBuilder.Build()
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	telemetry := otel.NewProvider("callsec-server", Version)

	listenerConfig := server.NewListenerConfig().
		WithLogger(logger).
		WithVerifier(issuer).
		WithMetrics(telemetry).
		WithOriginPatterns(append(def.Origins, serveOrigins...)...)
	if timeout := durationFlag(cmd, "auth-timeout", serveAuthTimeout, def.AuthTimeoutDuration); timeout > 0 {
		listenerConfig = listenerConfig.WithAuthTimeout(timeout)
	}
	if cmd.Flags().Changed("ping-interval") || def.PingInterval != "" {
		listenerConfig = listenerConfig.WithPingInterval(durationFlag(cmd, "ping-interval", servePingInterval, def.PingIntervalDuration))
	}
	if def.QueueSize > 0 {
		listenerConfig = listenerConfig.WithQueueSize(def.QueueSize)
	}

	listener, err := listenerConfig.Build()
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	var authenticator server.Authenticator
	if len(users) > 0 {
		authenticator = users
	} else {
		logger.Warn("No users configured, POST /token is disabled")
	}

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           server.NewRouter(listener, issuer, authenticator),
		ReadHeaderTimeout: 10 * time.Second,
	}

	crons, diags := cfg.BuildSchedules(listener)
	if diags.HasErrors() {
		return fmt.Errorf("failed to build schedules: %w", diags)
	}
	for name, c := range crons {
		logger.Info("Starting schedule", zap.String("schedule", name), zap.Int("pushes", len(c.Entries())))
		c.Start()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Development server listening", zap.String("address", listen), zap.Int("users", len(users)))
		serveErr <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-serveErr:
		stopCrons(crons)
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-sigChan:
		logger.Info("Signal received, shutting down", zap.String("signal", sig.String()))
	}

	stopCrons(crons)

	ctx, cancel := context.WithTimeout(context.Background(), serveShutdownWait)
	defer cancel()

	if err := listener.Shutdown(ctx); err != nil {
		logger.Warn("WebSocket shutdown incomplete", zap.Error(err))
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

func durationFlag(cmd *cobra.Command, flag string, flagValue, configured time.Duration) time.Duration {
	if cmd.Flags().Changed(flag) {
		return flagValue
	}
	return configured
}

func stopCrons(crons map[string]*cron.Cron) {
	for _, c := range crons {
		<-c.Stop().Done()
	}
}
