package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tsarna/callsec/pkg/realtime"
	"github.com/tsarna/callsec/pkg/realtime/auth"
	"github.com/tsarna/callsec/pkg/realtime/events"
	"github.com/tsarna/callsec/pkg/realtime/otel"
	"github.com/tsarna/callsec/pkg/realtime/subutils"
	"github.com/tsarna/callsec/pkg/realtime/websockets"
	"go.uber.org/zap"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [categories...]",
	Short: "Print real-time events",
	Long: `Connect to the real-time endpoint, authenticate and print every event
of the given categories (call, message, appointment, system) as
category<TAB>json. With no categories, all of them are printed.

The endpoint is either --url or derived from --api and --origin the
way the dashboard derives it from its own page.

Examples:
  callsec watch --url ws://localhost:8080/ws --token "$TOKEN"
  callsec watch --api https://api.example.com -u reception -p secret call message
  callsec watch -c callsec.hcl --filter 'select(.message.urgency == "critical")'
  callsec watch -c callsec.hcl --notify`,
	RunE: runWatch,
}

var (
	watchURL     string
	watchOrigin  string
	watchDriver  string
	watchFilter  string
	watchNotify  bool
	watchChanges bool
	watchQueue   int
	watchCreds   credentialFlags
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchURL, "url", "", "WebSocket URL, overrides --api/--origin derivation")
	watchCmd.Flags().StringVar(&watchOrigin, "origin", "", "dashboard page origin used to pick ws or wss")
	watchCmd.Flags().StringVar(&watchDriver, "driver", "", "WebSocket library: coder (default) or gorilla")
	watchCmd.Flags().StringVar(&watchFilter, "filter", "", "jq expression applied to each payload; null or false drops the event")
	watchCmd.Flags().BoolVar(&watchNotify, "notify", false, "print notification text instead of JSON")
	watchCmd.Flags().BoolVar(&watchChanges, "changes", false, "print what changed in each call, message and appointment")
	watchCmd.Flags().IntVar(&watchQueue, "queue-size", 100, "events buffered between the connection and the output")
	watchCreds.register(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	policy := realtime.DefaultReconnectPolicy()
	var configured []realtime.Category
	url, origin, driverName, filter := watchURL, watchOrigin, watchDriver, watchFilter
	if client := cfg.Client; client != nil {
		url = pick(cmd, "url", watchURL, client.URL)
		origin = pick(cmd, "origin", watchOrigin, client.Origin)
		driverName = pick(cmd, "driver", watchDriver, client.Driver)
		filter = pick(cmd, "filter", watchFilter, client.Filter)
		policy = client.ReconnectPolicy
		configured = client.ParsedCategories()
	}
	watchCreds.merge(cmd, cfg.Client)

	categories, err := watchCategories(args, configured)
	if err != nil {
		return err
	}

	driver, err := websockets.ParseDriver(driverName)
	if err != nil {
		return err
	}

	dialer, err := websockets.NewDialer().
		WithDriver(driver).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create dialer: %w", err)
	}

	tokens, grant, err := watchCreds.provider(logger)
	if err != nil {
		return err
	}
	if tokens == nil {
		logger.Warn("No credentials given, the connection will not be authenticated")
	}

	telemetry := otel.NewProvider("callsec", Version)

	builder := realtime.NewClient().
		WithURL(url).
		WithOrigin(origin, watchCreds.apiBase).
		WithLogger(logger).
		WithDialer(dialer).
		WithReconnectPolicy(policy).
		WithMetrics(telemetry).
		WithTracing(telemetry)
	if tokens != nil {
		builder = builder.WithTokenProvider(tokens)
	}

	client, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	output, err := watchOutput(cmd.OutOrStdout(), filter, logger)
	if err != nil {
		return err
	}
	async := subutils.NewAsyncQueueingSubscriber(output, watchQueue).Start()
	defer async.Close()

	for _, category := range categories {
		client.On(category, async)
	}

	failed := make(chan error, 1)
	client.On(realtime.CategorySystem, connectionMonitor(logger, grant, client.Attempts, failed))

	logger.Info("Starting watch",
		zap.String("url", client.URL()),
		zap.Any("categories", categories),
		zap.String("driver", string(dialer.Driver())),
	)

	if !client.Connect() {
		return errors.New("failed to open connection")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Debug("Signal received, exiting", zap.String("signal", sig.String()))
		if err := client.Close(); err != nil {
			logger.Warn("Error during client close", zap.Error(err))
		}
		return nil

	case err := <-failed:
		client.Close()
		return err
	}
}

func watchCategories(args []string, configured []realtime.Category) ([]realtime.Category, error) {
	if len(args) == 0 {
		if len(configured) > 0 {
			return configured, nil
		}
		return realtime.Categories, nil
	}

	categories := make([]realtime.Category, 0, len(args))
	for _, arg := range args {
		category, err := realtime.ParseCategory(arg)
		if err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, nil
}

// watchOutput assembles the subscriber chain that writes events to out.
func watchOutput(out io.Writer, filter string, logger *zap.Logger) (realtime.Subscriber, error) {
	w := &lockedWriter{w: out}

	var printer realtime.Subscriber
	switch {
	case watchNotify:
		printer = &notifyPrinter{out: w, logger: logger}
	case watchChanges:
		printer = events.NewTracker(func(c events.Change) {
			printChange(w, c, logger)
		})
	default:
		printer = &jsonPrinter{out: w}
	}

	sub := realtime.Subscriber(subutils.NewNamedLoggingSubscriber(printer, logger, zap.DebugLevel, "watch"))

	if filter != "" {
		jq, err := subutils.NewJqSubscriber(sub, filter, logger)
		if err != nil {
			return nil, err
		}
		sub = jq
	}

	return sub, nil
}

// connectionMonitor logs connection status, drops a rejected login token
// so the next attempt logs in again, and reports when the client gives up.
// attempts is read when the client gives up, before anything resets it.
func connectionMonitor(logger *zap.Logger, grant *auth.PasswordGrant, attempts func() int, failed chan<- error) realtime.Subscriber {
	return realtime.SubscriberFunc(func(ctx context.Context, category realtime.Category, payload json.RawMessage) error {
		ev, err := realtime.DecodeSystemEvent(payload)
		if err != nil {
			return err
		}

		status := events.StatusOf(ev)
		logger.Info("Connection status",
			zap.String("indicator", string(status.Indicator)),
			zap.String("status", status.Text),
		)

		switch ev.Status {
		case realtime.StatusAuthFailed:
			if grant != nil {
				grant.Invalidate()
			}
		case realtime.StatusReconnectFailed:
			select {
			case failed <- fmt.Errorf("giving up after %d reconnect attempts", attempts()):
			default:
			}
		}
		return nil
	})
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

type jsonPrinter struct {
	out *lockedWriter
}

func (p *jsonPrinter) OnEvent(ctx context.Context, category realtime.Category, payload json.RawMessage) error {
	p.out.Printf("%s\t%s\n", category, payload)
	return nil
}

type notifyPrinter struct {
	out    *lockedWriter
	logger *zap.Logger
}

func (p *notifyPrinter) OnEvent(ctx context.Context, category realtime.Category, payload json.RawMessage) error {
	if category == realtime.CategorySystem {
		ev, err := realtime.DecodeSystemEvent(payload)
		if err == nil && ev.Status != "" {
			status := events.StatusOf(ev)
			p.out.Printf("[%s] %s\n", status.Indicator, status.Text)
			return nil
		}
	}

	n, ok, err := events.Notify(category, payload)
	if err != nil {
		p.logger.Debug("Undecodable event", zap.String("category", string(category)), zap.Error(err))
		return nil
	}
	if ok {
		p.out.Printf("[%s] %s\n", n.Level, n.Text)
		return nil
	}

	summary, err := events.Summarize(category, payload)
	if err == nil {
		p.out.Printf("%s\n", summary)
	}
	return nil
}

func printChange(out *lockedWriter, c events.Change, logger *zap.Logger) {
	delta := c.Delta
	if delta == nil {
		delta = map[string]any{}
	}
	data, err := json.Marshal(delta)
	if err != nil {
		logger.Warn("Failed to encode change", zap.Error(err))
		return
	}
	out.Printf("%s\t%s\t%s\t%s\n", c.Category, c.Action, c.ID, data)
}
