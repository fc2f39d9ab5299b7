// Command actorcored hosts a Runtime as a long-running process: it
// parses the options skynet_main.c reads out of a config file into
// command-line flags/environment variables instead, installs the
// SIGHUP-reopens-logs and SIGPIPE-ignored signal handling
// skynet_start.c registers, and runs until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jabolina/actorcore/pkg/actorcore"
	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	pflag.Int("threads", 8, "worker goroutine count")
	pflag.Uint8("harbor", 0, "this node's harbor id (0 = standalone)")
	pflag.String("daemon", "", "pid file path; empty disables daemon mode")
	pflag.Bool("profile", false, "enable per-handler wall-clock accounting")
	pflag.String("logger", "", "log file path; empty logs to stderr")
	pflag.String("log-service", "logger", "name of the service SIGHUP asks to reopen its log output")
	pflag.String("bootstrap", "", "freeform argument recorded for the first service (services themselves are registered by the embedding process)")
	pflag.String("config", "", "path to a config file (any format viper supports)")
	pflag.Parse()

	v := viper.New()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return fmt.Errorf("actorcored: binding flags: %w", err)
	}
	v.SetEnvPrefix("actorcore")
	v.AutomaticEnv()

	if cfgPath := v.GetString("config"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("actorcored: reading config %s: %w", cfgPath, err)
		}
	}

	opts := actorcore.DefaultOptions()
	opts.Threads = v.GetInt("threads")
	opts.Harbor = uint8(v.GetUint("harbor"))
	opts.Daemon = v.GetString("daemon")
	opts.Profile = v.GetBool("profile")
	opts.LogService = v.GetString("log-service")

	logger := definition.NewLogger()
	if path := v.GetString("logger"); path != "" {
		fileLogger, err := definition.NewFileLogger(path)
		if err != nil {
			return fmt.Errorf("actorcored: opening log file %s: %w", path, err)
		}
		logger = fileLogger
	}
	opts.Logger = logger

	if bootstrap := v.GetString("bootstrap"); bootstrap != "" {
		// Services are Go values registered by whoever embeds the
		// runtime; a plain daemon has no module loader to turn a
		// command line into one (the native-plugin loader is a
		// separate component), so the argument is only recorded.
		logger.Warnf("bootstrap %q: this host registers no services of its own", bootstrap)
	}

	rt := actorcore.New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	// SIGHUP triggers a log-file reopen request rather than shutdown;
	// SIGPIPE is ignored entirely, matching skynet_start.c registering
	// a SIGHUP handler and never acting on SIGPIPE.
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	signal.Ignore(syscall.SIGPIPE)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				logger.Info("received SIGHUP, reopening log output")
				if h, ok := rt.Resolve(opts.LogService); ok {
					if err := rt.Send(actorcore.NoHandle, h, actorcore.TypeSystem, []byte("reopen")); err != nil {
						logger.Warnf("SIGHUP: failed to notify log service %q: %v", opts.LogService, err)
					}
				} else {
					logger.Warnf("SIGHUP: log service %q not registered, nothing to notify", opts.LogService)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Infof("received %s, shutting down", sig)
				rt.Shutdown()
				cancel()
				return
			}
		}
	}()

	return rt.Run(ctx)
}
