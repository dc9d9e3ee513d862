// Package config holds the deploy-time configuration of the html2pdf
// service. Values are layered: defaults, then an optional YAML file, then
// HTML2PDF_* environment variables. Command line flags are applied last by
// the binary. Configuration is read once at startup and never reloaded.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	html2pdf "github.com/alnah/go-html2pdf"
	"github.com/alnah/go-html2pdf/internal/yamlutil"
)

// EnvPrefix prefixes every environment override, e.g. HTML2PDF_SERVER_PORT.
const EnvPrefix = "HTML2PDF"

// Sentinel errors for config operations.
var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigParse    = errors.New("failed to parse config")
	ErrInvalidConfig  = errors.New("invalid config")
)

// Limits.
const (
	DefaultPort         = 3008
	DefaultMaxBodyBytes = 5 << 20
	MaxCSPLength        = 4096
)

// Config holds the whole service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pool      PoolConfig      `yaml:"pool"`
	Render    RenderConfig    `yaml:"render"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rateLimit" split_words:"true"`
	Browser   BrowserConfig   `yaml:"browser"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LogConfig       `yaml:"logging"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MaxBodyBytes   int64    `yaml:"maxBodyBytes" split_words:"true"`
	TrustedProxies []string `yaml:"trustedProxies" split_words:"true"` // empty trusts no proxy
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PoolConfig sizes the browser pool.
type PoolConfig struct {
	Size        int           `yaml:"size"` // 0 derives the size from GOMAXPROCS
	PingTimeout time.Duration `yaml:"pingTimeout" split_words:"true"`
}

// RenderConfig holds per-request rendering settings.
type RenderConfig struct {
	Timeout      time.Duration  `yaml:"timeout"`
	CloseTimeout time.Duration  `yaml:"closeTimeout" split_words:"true"`
	Viewport     ViewportConfig `yaml:"viewport"`
	PDF          PDFConfig      `yaml:"pdf"`
}

// ViewportConfig is the fixed viewport of every rendering context.
type ViewportConfig struct {
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	Scale  float64 `yaml:"scale"`
}

// PDFConfig defines the export options.
type PDFConfig struct {
	Format            string       `yaml:"format"` // "letter", "legal", "tabloid", "a3", "a4", "a5"
	Margin            MarginConfig `yaml:"margin"`
	PrintBackground   bool         `yaml:"printBackground" split_words:"true"`
	PreferCSSPageSize bool         `yaml:"preferCSSPageSize" split_words:"true"`
}

// MarginConfig holds CSS lengths such as "5px" or "1cm".
type MarginConfig struct {
	Top    string `yaml:"top"`
	Right  string `yaml:"right"`
	Bottom string `yaml:"bottom"`
	Left   string `yaml:"left"`
}

// SecurityConfig defines the sandbox.
type SecurityConfig struct {
	CSP                  string   `yaml:"csp"`
	AllowedResourceTypes []string `yaml:"allowedResourceTypes" split_words:"true"`
	BypassPageCSP        bool     `yaml:"bypassPageCSP" split_words:"true"`
	Sanitizer            string   `yaml:"sanitizer"` // "pattern" or "policy"
}

// RateLimitConfig defines the per-client sliding window.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"maxRequests" split_words:"true"`
}

// BrowserConfig defines how browsers are launched.
type BrowserConfig struct {
	Bin       string   `yaml:"bin"` // empty uses the browser managed by rod
	Headless  bool     `yaml:"headless"`
	NoSandbox bool     `yaml:"noSandbox" split_words:"true"`
	Flags     []string `yaml:"flags"`
}

// CORSConfig defines the cross-origin policy.
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allowOrigins" split_words:"true"`
	AllowMethods     []string      `yaml:"allowMethods" split_words:"true"`
	AllowHeaders     []string      `yaml:"allowHeaders" split_words:"true"`
	AllowCredentials bool          `yaml:"allowCredentials" split_words:"true"`
	MaxAge           time.Duration `yaml:"maxAge" split_words:"true"`
}

// LogConfig defines logging.
type LogConfig struct {
	Level       string `yaml:"level"` // "debug", "info", "warn", "error"
	Development bool   `yaml:"development"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	Grace time.Duration `yaml:"grace"` // time given to in-flight requests
}

// Default returns the configuration of the reference deployment.
func Default() *Config {
	pdf := html2pdf.DefaultPDFOptions()
	vp := html2pdf.DefaultViewport()
	policy := html2pdf.DefaultSecurityPolicy()
	launch := html2pdf.DefaultLaunchConfig()

	resourceTypes := make([]string, len(policy.AllowedResourceTypes))
	for i, t := range policy.AllowedResourceTypes {
		resourceTypes[i] = string(t)
	}

	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         DefaultPort,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Pool: PoolConfig{
			Size:        html2pdf.DefaultPoolSize,
			PingTimeout: 5 * time.Second,
		},
		Render: RenderConfig{
			Timeout:      html2pdf.DefaultTimeout,
			CloseTimeout: html2pdf.DefaultCloseTimeout,
			Viewport:     ViewportConfig{Width: vp.Width, Height: vp.Height, Scale: vp.DeviceScaleFactor},
			PDF: PDFConfig{
				Format: pdf.Format,
				Margin: MarginConfig{
					Top:    pdf.Margin.Top,
					Right:  pdf.Margin.Right,
					Bottom: pdf.Margin.Bottom,
					Left:   pdf.Margin.Left,
				},
				PrintBackground:   pdf.PrintBackground,
				PreferCSSPageSize: pdf.PreferCSSPageSize,
			},
		},
		Security: SecurityConfig{
			CSP:                  policy.CSP,
			AllowedResourceTypes: resourceTypes,
			BypassPageCSP:        policy.BypassPageCSP,
			Sanitizer:            html2pdf.SanitizerPattern,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			Window:      html2pdf.DefaultRateWindow,
			MaxRequests: html2pdf.DefaultRateMaxRequests,
		},
		Browser: BrowserConfig{
			Headless:  launch.Headless,
			NoSandbox: launch.NoSandbox,
			Flags:     launch.Flags,
		},
		CORS: CORSConfig{
			AllowOrigins:     []string{"*"},
			AllowMethods:     []string{"POST"},
			AllowHeaders:     []string{"Content-Type"},
			AllowCredentials: true,
			MaxAge:           600 * time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Shutdown: ShutdownConfig{
			Grace: 30 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// nameOrPath (skipped when empty) and the environment, then validates it.
// A missing file is an error; there is no silent fallback.
func Load(nameOrPath string) (*Config, error) {
	cfg := Default()

	if nameOrPath != "" {
		path := nameOrPath
		if !isFilePath(nameOrPath) {
			var err error
			if path, err = resolveConfigPath(nameOrPath); err != nil {
				return nil, err
			}
		}
		if err := yamlutil.DecodeFile(path, cfg); err != nil && !errors.Is(err, yamlutil.ErrNilData) {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", ErrConfigParse, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 1 {
		return invalid("server.maxBodyBytes", "must be positive, got %d", c.Server.MaxBodyBytes)
	}

	if c.Pool.Size < 0 || c.Pool.Size > html2pdf.MaxPoolSize {
		return invalid("pool.size", "must be between 0 and %d, got %d", html2pdf.MaxPoolSize, c.Pool.Size)
	}
	if c.Pool.PingTimeout <= 0 {
		return invalid("pool.pingTimeout", "must be positive, got %s", c.Pool.PingTimeout)
	}

	if c.Render.Timeout <= 0 {
		return invalid("render.timeout", "must be positive, got %s", c.Render.Timeout)
	}
	if c.Render.CloseTimeout <= 0 {
		return invalid("render.closeTimeout", "must be positive, got %s", c.Render.CloseTimeout)
	}
	vp := c.Render.Viewport
	if vp.Width < 1 || vp.Height < 1 || vp.Scale <= 0 {
		return invalid("render.viewport", "width, height and scale must be positive, got %dx%d@%g", vp.Width, vp.Height, vp.Scale)
	}
	if err := c.PDFOptions().Validate(); err != nil {
		return invalid("render.pdf", "%v", err)
	}

	if strings.TrimSpace(c.Security.CSP) == "" {
		return invalid("security.csp", "cannot be empty")
	}
	if len(c.Security.CSP) > MaxCSPLength {
		return invalid("security.csp", "%d chars, max %d", len(c.Security.CSP), MaxCSPLength)
	}
	if _, err := html2pdf.ParseResourceTypes(c.Security.AllowedResourceTypes); err != nil {
		return invalid("security.allowedResourceTypes", "%v", err)
	}
	if _, ok := html2pdf.NewSanitizer(c.Security.Sanitizer); !ok {
		return invalid("security.sanitizer", "unknown mode %q (must be pattern or policy)", c.Security.Sanitizer)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			return invalid("rateLimit.window", "must be positive, got %s", c.RateLimit.Window)
		}
		if c.RateLimit.MaxRequests < 1 {
			return invalid("rateLimit.maxRequests", "must be positive, got %d", c.RateLimit.MaxRequests)
		}
	}

	if len(c.CORS.AllowOrigins) == 0 {
		return invalid("cors.allowOrigins", "needs at least one origin")
	}
	if c.CORS.MaxAge < 0 {
		return invalid("cors.maxAge", "cannot be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", "invalid value %q (must be debug, info, warn or error)", c.Logging.Level)
	}

	if c.Shutdown.Grace < 0 {
		return invalid("shutdown.grace", "cannot be negative")
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}

// PDFOptions converts the render.pdf section.
func (c *Config) PDFOptions() html2pdf.PDFOptions {
	p := c.Render.PDF
	return html2pdf.PDFOptions{
		Format: strings.ToLower(p.Format),
		Margin: html2pdf.Margins{
			Top:    p.Margin.Top,
			Right:  p.Margin.Right,
			Bottom: p.Margin.Bottom,
			Left:   p.Margin.Left,
		},
		PrintBackground:   p.PrintBackground,
		PreferCSSPageSize: p.PreferCSSPageSize,
	}
}

// Viewport converts the render.viewport section.
func (c *Config) Viewport() html2pdf.Viewport {
	v := c.Render.Viewport
	return html2pdf.Viewport{Width: v.Width, Height: v.Height, DeviceScaleFactor: v.Scale}
}

// SecurityPolicy converts the security section. Call Validate first.
func (c *Config) SecurityPolicy() html2pdf.SecurityPolicy {
	types, _ := html2pdf.ParseResourceTypes(c.Security.AllowedResourceTypes)
	return html2pdf.SecurityPolicy{
		CSP:                  c.Security.CSP,
		AllowedResourceTypes: types,
		BypassPageCSP:        c.Security.BypassPageCSP,
	}
}

// Sanitizer returns the configured sanitizer, falling back to the pattern
// sanitizer for an unknown mode.
func (c *Config) Sanitizer() html2pdf.Sanitizer {
	if s, ok := html2pdf.NewSanitizer(c.Security.Sanitizer); ok {
		return s
	}
	return html2pdf.PatternSanitizer{}
}

// LaunchConfig converts the browser section.
func (c *Config) LaunchConfig() html2pdf.LaunchConfig {
	return html2pdf.LaunchConfig{
		Bin:       c.Browser.Bin,
		Headless:  c.Browser.Headless,
		NoSandbox: c.Browser.NoSandbox,
		Flags:     append([]string(nil), c.Browser.Flags...),
	}
}

// isFilePath returns true if the string looks like a file path.
func isFilePath(s string) bool {
	return strings.ContainsAny(s, "/\\")
}

// resolveConfigPath searches for a config file by name in standard locations.
// Tries extensions in order: .yaml, .yml
// Tries locations in order: current directory, ~/.config/go-html2pdf/
func resolveConfigPath(name string) (string, error) {
	extensions := []string{".yaml", ".yml"}
	triedPaths := make([]string, 0, len(extensions)*2)

	for _, ext := range extensions {
		localPath := name + ext
		if fileExists(localPath) {
			return localPath, nil
		}
		triedPaths = append(triedPaths, localPath)
	}

	userConfigDir, err := os.UserConfigDir()
	if err == nil {
		for _, ext := range extensions {
			userPath := filepath.Join(userConfigDir, "go-html2pdf", name+ext)
			if fileExists(userPath) {
				return userPath, nil
			}
			triedPaths = append(triedPaths, userPath)
		}
	}

	return "", fmt.Errorf("%w: tried %s", ErrConfigNotFound, strings.Join(triedPaths, ", "))
}

// fileExists returns true if the path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
