package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/m4xw311/kernelio/config"
	"github.com/m4xw311/kernelio/logging"
	"github.com/m4xw311/kernelio/relay"
	"github.com/m4xw311/kernelio/session"
	"github.com/m4xw311/kernelio/transport"
)

type flags struct {
	configPath  string
	notebook    string
	externalURI string
	session     string
	trace       bool
	command     []string
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := pflag.NewFlagSet("kernelio", pflag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "Configuration file (defaults to .kernelio/config.yaml lookup)")
	fs.StringVar(&f.notebook, "notebook", "", "Notebook the kernel serves")
	fs.StringVar(&f.externalURI, "external-uri", "", "Externally reachable URI announced to the kernel's HTTP API")
	fs.StringVarP(&f.session, "session", "s", "", "Session name to record the transcript under")
	fs.BoolVar(&f.trace, "trace", false, "Mirror every log line to "+logging.TraceFile)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.command = fs.Args()
	return f, nil
}

// launchFor picks the kernel launch. A command given after the flags
// replaces the configured one.
func launchFor(cfg *config.Config, notebook string, command []string) transport.ProcessStart {
	start := cfg.ProcessStartFor(notebook)
	if len(command) > 0 {
		start.Command = command[0]
		start.Args = append([]string(nil), command[1:]...)
	}
	return start
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadConfig()
	}
	cfg := config.Default()
	if err := config.LoadFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error parsing flags: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %+v\n", err)
		return 1
	}

	logOpts := logging.Options{Level: cfg.Log.Level, Out: stderr, App: "kernelio"}
	if f.trace {
		traceFile, err := logging.OpenTrace()
		if err != nil {
			fmt.Fprintf(stderr, "Error opening trace file: %v\n", err)
			return 1
		}
		defer traceFile.Close()
		logOpts.Trace = traceFile
		if logOpts.Level == "" || logOpts.Level == "info" {
			logOpts.Level = "trace"
		}
	}
	logger := logging.New(logOpts)

	sessionName := f.session
	if sessionName == "" {
		sessionName = defaultSessionName()
	}
	sess, err := session.New(sessionName)
	if err != nil {
		logger.Error().Err(err).Str("session", sessionName).Msg("Error creating session")
		return 1
	}
	defer func() {
		if err := sess.Save(); err != nil {
			logger.Error().Err(err).Str("session", sessionName).Msg("Error saving session")
		}
	}()

	exited := make(chan transport.ExitStatus, 1)
	t := transport.New(transport.Options{
		NotebookPath:  f.notebook,
		ProcessStart:  launchFor(cfg, f.notebook, f.command),
		Channel:       logging.NewChannel(logger, f.notebook),
		Notifier:      logging.NewNotifier(logger),
		TunnelTimeout: cfg.Tunnel.Timeout,
		ProcessExited: func(status transport.ExitStatus) {
			sess.SetExit(status.Code)
			exited <- status
		},
	})
	defer t.Close()
	sub := t.SubscribeToKernelEvents(sess.RecordEvent)
	defer sub.Dispose()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := t.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Error starting kernel")
		return 1
	}
	sess.SetProcess(f.notebook, t.Identity().PID, t.HTTPPort())
	logger.Info().Str("session", sessionName).Int("httpPort", t.HTTPPort()).Msg("Kernel launched")

	if f.externalURI != "" {
		go configureExternalURI(ctx, t, f.externalURI, logger)
	}

	relayDone := make(chan error, 1)
	go func() {
		relayDone <- relay.Run(ctx, t, bufio.NewReader(stdin), bufio.NewWriter(stdout), relay.Options{
			Trace:     func(msg string) { logger.Trace().Msg(msg) },
			OnCommand: sess.RecordCommand,
		})
	}()

	select {
	case status := <-exited:
		if status.Code != nil {
			return *status.Code
		}
		return 1
	case err := <-relayDone:
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("Relay stopped with an error")
			return 1
		}
		return 0
	}
}

func configureExternalURI(ctx context.Context, t *transport.Transport, raw string, logger zerolog.Logger) {
	u, err := url.Parse(raw)
	if err != nil {
		logger.Error().Err(err).Str("uri", raw).Msg("Invalid external uri")
		return
	}
	if err := t.WaitForReady(ctx); err != nil {
		return
	}
	if err := t.SetExternalURI(ctx, u); err != nil {
		logger.Error().Err(err).Msg("Error configuring tunnel")
		return
	}
	if b := t.BootstrapperURI(); b != nil {
		logger.Info().Str("bootstrapper", b.String()).Msg("Kernel http api available")
	}
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "kernelio"
	}
	dirName := filepath.Base(wd)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s", dirName, timestamp)
}
