package config

import (
	"errors"
	"flag"
	"net/url"
	"strings"
	"time"
)

// RemoteURL holds a validated http(s) base URL. It implements the
// flag.Value interface.
type RemoteURL struct {
	raw string
}

// ParseFlags parses all configuration flags from args.
//
// Flags:
//
//	-r remote base URL (http or https)
//	-health-path liveness probe path
//	-request-timeout per-request timeout on a good link (e.g. "10s")
//	-store store backend: sqlite or file
//	-d SQLite database path
//	-f file backend path
//	-c/-config json file path with configs
//	-log-level zerolog level
//	-log-file log file path
//	-max-retries retries per transiently failing operation
//	-max-concurrency hard cap on in-flight requests
//	-tui enable terminal status view
func ParseFlags(args []string) (*StructuredConfig, error) {
	fs := flag.NewFlagSet("offline-sync", flag.ContinueOnError)

	var remote RemoteURL
	var healthPath string
	var requestTimeout time.Duration
	var backend, dsn, filePath string
	var jsonConfigPath string
	var logLevel, logFile string
	var maxRetries, maxConcurrency int
	var tui bool

	fs.Var(&remote, "r", "Remote base URL")
	fs.StringVar(&healthPath, "health-path", "", "Liveness probe path")
	fs.DurationVar(&requestTimeout, "request-timeout", 0, "Request timeout (e.g., 10s, 1m)")
	fs.StringVar(&backend, "store", "", "Store backend: sqlite or file")
	fs.StringVar(&dsn, "d", "", "SQLite database path")
	fs.StringVar(&filePath, "f", "", "File backend path")
	fs.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	fs.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")
	fs.StringVar(&logLevel, "log-level", "", "Log level")
	fs.StringVar(&logFile, "log-file", "", "Log file path")
	fs.IntVar(&maxRetries, "max-retries", 0, "Retries per transiently failing operation")
	fs.IntVar(&maxConcurrency, "max-concurrency", 0, "Hard cap on in-flight requests")
	fs.BoolVar(&tui, "tui", false, "Show terminal status view")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return &StructuredConfig{
		App: App{
			LogLevel: logLevel,
			LogFile:  logFile,
			TUI:      tui,
		},
		Store: Store{
			Backend:  backend,
			DSN:      dsn,
			FilePath: filePath,
		},
		Remote: Remote{
			BaseURL:        remote.String(),
			HealthPath:     healthPath,
			RequestTimeout: requestTimeout,
		},
		Sync: Sync{
			MaxRetries:     maxRetries,
			MaxConcurrency: maxConcurrency,
		},
		JSONFilePath: jsonConfigPath,
	}, nil
}

// String returns the URL without a trailing slash.
func (u *RemoteURL) String() string {
	return u.raw
}

// Set parses s as an absolute http or https URL.
func (u *RemoteURL) Set(s string) error {
	parsed, err := url.Parse(s)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("remote URL must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("remote URL must include a host")
	}

	u.raw = strings.TrimRight(s, "/")
	return nil
}
