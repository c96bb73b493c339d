// Command scopinator-cli is a thin external driver over pkg/control:
// a way to exercise a device from a terminal without writing Go.
//
// Usage:
//
//	scopinator-cli connect -endpoint host:port [-config file] [-log-level debug]
//	scopinator-cli monitor -endpoint host:port
//	scopinator-cli status  -endpoint host:port
//	scopinator-cli discover
//
// Exit codes: 0 success, 1 generic failure, 2 connection failed,
// 3 command rejected, 130 interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/astrophotograph/scopinator/pkg/command"
	"github.com/astrophotograph/scopinator/pkg/config"
	"github.com/astrophotograph/scopinator/pkg/connection"
	"github.com/astrophotograph/scopinator/pkg/control"
	"github.com/astrophotograph/scopinator/pkg/errs"
	"github.com/astrophotograph/scopinator/pkg/eventbus"
	applog "github.com/astrophotograph/scopinator/pkg/log"
)

const (
	exitOK              = 0
	exitGeneric         = 1
	exitConnectFailed   = 2
	exitCommandRejected = 3
	exitInterrupted     = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return exitGeneric
	}

	switch args[0] {
	case "connect":
		return cmdConnect(args[1:])
	case "monitor":
		return cmdMonitor(args[1:])
	case "status":
		return cmdStatus(args[1:])
	case "discover":
		return cmdDiscover(args[1:])
	case "-h", "-help", "--help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "scopinator-cli: unknown subcommand %q\n", args[0])
		usage()
		return exitGeneric
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: scopinator-cli <connect|monitor|status|discover> [flags]")
}

// commonFlags are shared by every subcommand that talks to a device.
type commonFlags struct {
	endpoint   string
	configFile string
	logLevel   string
}

func parseCommon(name string, args []string) (*commonFlags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cf := &commonFlags{}
	fs.StringVar(&cf.endpoint, "endpoint", "", "device address, host:port")
	fs.StringVar(&cf.configFile, "config", "", "configuration file path (YAML)")
	fs.StringVar(&cf.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cf.endpoint == "" {
		return nil, errors.New("-endpoint is required")
	}
	return cf, nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func loadConfig(cf *commonFlags) (config.Config, error) {
	if cf.configFile != "" {
		return config.Load(cf.configFile)
	}
	return config.FromEnv()
}

func buildControlConfig(cfg config.Config, logger *slog.Logger) control.Config {
	return control.Config{
		ConnectTimeout:  cfg.ConnectTimeout,
		ReadIdleTimeout: cfg.ReadIdleTimeout,
		CommandTimeout:  cfg.CommandTimeout,
		Backoff: connection.BackoffConfig{
			Base: cfg.ReconnectBase,
			Cap:  cfg.ReconnectCap,
		},
		MaxReconnectAttempts: cfg.ReconnectMaxAttempts,
		EventBus:             eventbus.Config{QueueSize: cfg.SubscriberQueueSize},
		ProtocolLogger:       applog.NewSlogAdapter(logger),
		Logger:               logger,
	}
}

// connectWithSignal connects client to endpoint, mapping a failed
// dial to exitConnectFailed and a SIGINT/SIGTERM during the attempt to
// exitInterrupted. Returns exitOK on success.
func connectWithSignal(client *control.Client, endpoint string) (code int, ok bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx, endpoint); err != nil {
		if ctx.Err() != nil {
			return exitInterrupted, false
		}
		fmt.Fprintf(os.Stderr, "scopinator-cli: connect failed: %v\n", err)
		return exitConnectFailed, false
	}
	return exitOK, true
}

func cmdConnect(args []string) int {
	cf, err := parseCommon("connect", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitGeneric
	}
	cfg, err := loadConfig(cf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitGeneric
	}
	logger := setupLogger(cf.logLevel)

	client := control.New(buildControlConfig(cfg, logger))
	defer client.Close()

	if code, ok := connectWithSignal(client, cf.endpoint); !ok {
		return code
	}
	logger.Info("connected", "endpoint", cf.endpoint)

	snapshot := client.Status()
	data, _ := json.MarshalIndent(snapshot, "", "  ")
	fmt.Println(string(data))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return exitInterrupted
}

func cmdMonitor(args []string) int {
	cf, err := parseCommon("monitor", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitGeneric
	}
	cfg, err := loadConfig(cf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitGeneric
	}
	logger := setupLogger(cf.logLevel)

	client := control.New(buildControlConfig(cfg, logger))
	defer client.Close()

	if code, ok := connectWithSignal(client, cf.endpoint); !ok {
		return code
	}

	client.Subscribe(eventbus.KindAll, func(e eventbus.Event) {
		fmt.Printf("[%s] %s %v\n", e.Timestamp.Format(time.RFC3339), e.Kind, e.Payload)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return exitInterrupted
}

func cmdStatus(args []string) int {
	cf, err := parseCommon("status", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitGeneric
	}
	cfg, err := loadConfig(cf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitGeneric
	}
	logger := setupLogger(cf.logLevel)

	client := control.New(buildControlConfig(cfg, logger))
	defer client.Close()

	if code, ok := connectWithSignal(client, cf.endpoint); !ok {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()

	_, err = client.Send(ctx, command.Simple{MethodName: "get_status"})
	if err != nil {
		if errors.Is(err, errs.ErrCommandRejected) {
			fmt.Fprintf(os.Stderr, "scopinator-cli: get_status rejected: %v\n", err)
			return exitCommandRejected
		}
		fmt.Fprintf(os.Stderr, "scopinator-cli: get_status failed: %v\n", err)
		return exitGeneric
	}

	data, _ := json.MarshalIndent(client.Status(), "", "  ")
	fmt.Println(string(data))
	return exitOK
}

func cmdDiscover(args []string) int {
	fmt.Fprintln(os.Stderr, "scopinator-cli: LAN device discovery is not part of this library;")
	fmt.Fprintln(os.Stderr, "point -endpoint at a known host:port, or use an external discovery tool.")
	return exitGeneric
}
