package main

import (
	"errors"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/alnah/go-html2pdf/internal/config"
)

// ErrUsage marks invalid command line input.
var ErrUsage = errors.New("usage error")

// serveFlags holds the command line overrides. Only flags explicitly set
// on the command line override the file and environment.
type serveFlags struct {
	config   string
	host     string
	port     int
	poolSize int
	logLevel string
	dev      bool
	version  bool
	help     bool

	set *flag.FlagSet
}

// parseFlags parses args (without the program name).
func parseFlags(args []string, stderr io.Writer) (*serveFlags, error) {
	f := &serveFlags{}
	fs := flag.NewFlagSet("html2pdf", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVarP(&f.config, "config", "c", "", "config name or path to a YAML file")
	fs.StringVar(&f.host, "host", "", "listen host")
	fs.IntVarP(&f.port, "port", "p", 0, "listen port")
	fs.IntVarP(&f.poolSize, "pool-size", "w", 0, "number of browsers (0 = auto from CPU count)")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&f.dev, "dev", false, "human readable logs and debug gin mode")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	fs.BoolVarP(&f.help, "help", "h", false, "show this help")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: html2pdf [flags]\n\nServes POST /html2pdf, GET /healthz and GET /metrics.\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nEnvironment variables prefixed with %s_ override the config file.\n", config.EnvPrefix)
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %v", ErrUsage, fs.Args())
	}
	if f.help {
		fs.Usage()
	}
	f.set = fs
	return f, nil
}

// apply copies explicitly set flags onto cfg.
func (f *serveFlags) apply(cfg *config.Config) {
	if f.set.Changed("host") {
		cfg.Server.Host = f.host
	}
	if f.set.Changed("port") {
		cfg.Server.Port = f.port
	}
	if f.set.Changed("pool-size") {
		cfg.Pool.Size = f.poolSize
	}
	if f.set.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if f.set.Changed("dev") {
		cfg.Logging.Development = f.dev
	}
}
