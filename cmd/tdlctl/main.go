// tdlctl connects to a chat-protocol backend, logs in and either runs a single
// request or streams updates until interrupted.
//
// The backend is a native binary speaking newline-delimited JSON on stdio
// (given after "--"), a WebSocket gateway (--ws), or a built-in simulator
// (--simulate). Configuration comes from the defaults, an optional config
// file, then TDL_* environment variables, which may be placed in a .env file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/localrivet/gotdl/client"
	"github.com/localrivet/gotdl/config"
	"github.com/localrivet/gotdl/logx"
	"github.com/localrivet/gotdl/protocol"
	"github.com/localrivet/gotdl/transport"
	"github.com/localrivet/gotdl/transport/inmemory"
	"github.com/localrivet/gotdl/transport/stdio"
	"github.com/localrivet/gotdl/transport/ws"
)

type options struct {
	configPath   string
	envFile      string
	wsURL        string
	wsSecret     string
	simulate     bool
	botToken     string
	invoke       string
	updates      bool
	logLevel     string
	metricsAddr  string
	closeTimeout time.Duration
	command      []string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("tdlctl", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "YAML, JSON or JSONC config file")
	flagSet.StringVar(&opts.envFile, "env-file", ".env", "file of TDL_* variables loaded before the environment is read")
	flagSet.StringVar(&opts.wsURL, "ws", "", "WebSocket gateway URL (ws:// or wss://)")
	flagSet.StringVar(&opts.wsSecret, "ws-secret", "", "shared secret for gateway bearer tokens (default $TDL_WS_SECRET)")
	flagSet.BoolVar(&opts.simulate, "simulate", false, "use the built-in simulated backend")
	flagSet.StringVar(&opts.botToken, "bot-token", "", "log in as a bot with this token instead of prompting for a user login")
	flagSet.StringVar(&opts.invoke, "invoke", "", "JSON request to send after login; the response is printed")
	flagSet.BoolVar(&opts.updates, "updates", false, "print updates as JSON lines until interrupted")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flagSet.DurationVar(&opts.closeTimeout, "close-timeout", 10*time.Second, "how long to wait for the backend to close")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	opts.command = flagSet.Args()

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", opts.envFile, err)
	}
	if opts.wsSecret == "" {
		opts.wsSecret = os.Getenv("TDL_WS_SECRET")
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	logger := logx.NewDefaultLogger()
	logger.SetLevel(logx.Level(opts.logLevel))

	backend, err := newBackend(opts, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	c, err := client.New(backend, cfg,
		client.WithLogger(logger),
		client.WithMetrics(client.NewMetrics(registry)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	if opts.metricsAddr != "" {
		serveMetrics(groupCtx, group, opts.metricsAddr, registry, logger)
	}
	group.Go(func() error {
		err := session(groupCtx, c, opts, logger)
		stop()
		return err
	})
	return group.Wait()
}

func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path, cfg); err != nil {
			return config.Config{}, err
		}
	}
	return config.FromEnv(config.EnvPrefix, cfg)
}

func newBackend(opts options, logger logx.Logger) (transport.Backend, error) {
	switch {
	case opts.simulate:
		sim := inmemory.NewSimulator(inmemory.Account{
			PhoneNumber: "+15550100",
			Code:        "12345",
			BotToken:    opts.botToken,
		})
		return sim.Backend(), nil

	case opts.wsURL != "":
		wsOptions := []ws.Option{ws.WithLogger(logger)}
		if opts.wsSecret != "" {
			issuer, err := ws.NewTokenIssuer(opts.wsSecret, "tdlctl", 5*time.Minute)
			if err != nil {
				return nil, err
			}
			wsOptions = append(wsOptions, ws.WithBearerToken(issuer))
		}
		return ws.NewBackend(opts.wsURL, wsOptions...)

	case len(opts.command) > 0:
		return stdio.NewBackend(opts.command[0], opts.command[1:], stdio.WithLogger(logger)), nil
	}
	return nil, errors.New("no backend: pass a command after --, --ws or --simulate")
}

// session runs one client from connect to close.
func session(ctx context.Context, c *client.Client, opts options, logger logx.Logger) error {
	client.On(c, client.EventError, func(err error) {
		logger.Error("%v", err)
	})
	if opts.updates {
		encoder := json.NewEncoder(os.Stdout)
		client.On(c, client.EventUpdate, func(update protocol.Object) {
			if err := encoder.Encode(update); err != nil {
				logger.Warn("failed to print update: %v", err)
			}
		})
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), opts.closeTimeout)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			logger.Warn("close: %v", err)
		}
	}()

	var factory func() client.LoginDetails
	if opts.botToken != "" {
		factory = func() client.LoginDetails { return client.BotToken(opts.botToken) }
	}
	if err := c.ConnectAndLogin(ctx, factory); err != nil {
		return err
	}
	if version, err := c.Version(); err == nil {
		logger.Info("backend %s %s ready", c.BackendName(), version)
	}

	if opts.invoke != "" {
		req, err := protocol.FromWire([]byte(opts.invoke))
		if err != nil {
			return fmt.Errorf("invalid --invoke request: %w", err)
		}
		res, err := c.Invoke(ctx, req)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}

	if opts.updates {
		select {
		case <-ctx.Done():
		case <-c.Done():
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, group *errgroup.Group, addr string, registry *prometheus.Registry, logger logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	group.Go(func() error {
		logger.Info("serving metrics on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tdlctl connects to a chat-protocol backend and logs in.

Usage:
  tdlctl [flags] -- <backend binary> [args...]
  tdlctl [flags] --ws wss://gateway.example/tdl
  tdlctl [flags] --simulate

Examples:
  tdlctl --bot-token "$BOT_TOKEN" --invoke '{"@type":"getMe"}' -- ./tdjson-stdio
  tdlctl --config tdl.yaml --updates -- ./tdjson-stdio

Flags:
`)
	flagSet.PrintDefaults()
}
