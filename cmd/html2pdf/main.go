package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	html2pdf "github.com/alnah/go-html2pdf"
	"github.com/alnah/go-html2pdf/internal/config"
	"github.com/alnah/go-html2pdf/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	ctx, stop := notifyContext(context.Background())
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCodeFor(err))
}

// run parses flags, loads the configuration and serves until ctx is done.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if flags.help {
		return nil
	}
	if flags.version {
		fmt.Fprintf(stdout, "html2pdf %s\n", Version)
		return nil
	}

	cfg, err := config.Load(flags.config)
	if err != nil {
		return err
	}
	flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	defer func() { _ = logger.Sync() }()

	// Error ignored: maxprocs.Set only fails if GOMAXPROCS env is invalid,
	// in which case Go runtime defaults apply and the program continues safely.
	_, _ = maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf))

	logger.Info("starting html2pdf", zap.String("version", Version))

	return serve(ctx, cfg, serveDeps{
		logger: logger,
		launch: html2pdf.RodLauncher(cfg.LaunchConfig()),
		listen: func(addr string) (net.Listener, error) {
			return net.Listen("tcp", addr)
		},
	})
}
