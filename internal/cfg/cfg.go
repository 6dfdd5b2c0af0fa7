package cfg

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/nanocms/nanocms/internal/log"
)

type App struct {
	SiteRoot   string
	ConfigFile string
	UploadsDir string

	HTTPPort int
	OpsPort  int

	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	EnablePprof bool

	RatePerSecond float64
	RateBurst     int

	LoginMaxAttempts int
	LoginLockoutSecs int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.SiteRoot, "site-root", ".", "directory tree served and edited by the CMS")
	fs.StringVar(&c.ConfigFile, "config-file", "nanocms.json", "credential file path (relative paths resolve against site-root)")
	fs.StringVar(&c.UploadsDir, "uploads-dir", "resources", "default upload folder for files without a target directory")
	fs.IntVar(&c.HTTPPort, "http-port", 8000, "listen TCP port (1..65535)")
	fs.IntVar(&c.OpsPort, "ops-port", 9000, "ops listen TCP port for metrics/health/pprof (1..65535)")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on ops port only)")
	fs.Float64Var(&c.RatePerSecond, "rate-per-second", 20, "per-IP request refill rate")
	fs.IntVar(&c.RateBurst, "rate-burst", 60, "per-IP request burst ceiling")
	fs.IntVar(&c.LoginMaxAttempts, "login-max-attempts", 5, "failed logins per address before lockout")
	fs.IntVar(&c.LoginLockoutSecs, "login-lockout", 300, "lockout window in seconds after too many failures")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.OpsPort < 1 || c.OpsPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid OPS_PORT %d (must be 1..65535)", c.OpsPort))
	}
	if c.OpsPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("OPS_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if strings.TrimSpace(c.SiteRoot) == "" {
		errs = append(errs, errors.New("SITE_ROOT must not be empty"))
	}
	if strings.TrimSpace(c.ConfigFile) == "" {
		errs = append(errs, errors.New("CONFIG_FILE must not be empty"))
	}
	if strings.TrimSpace(c.UploadsDir) == "" {
		errs = append(errs, errors.New("UPLOADS_DIR must not be empty"))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.RatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_PER_SECOND %.2f (must be > 0)", c.RatePerSecond))
	}
	if c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid RATE_BURST %d (must be >= 1)", c.RateBurst))
	}
	if c.LoginMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("invalid LOGIN_MAX_ATTEMPTS %d (must be >= 1)", c.LoginMaxAttempts))
	}
	if c.LoginLockoutSecs < 1 {
		errs = append(errs, fmt.Errorf("invalid LOGIN_LOCKOUT %d (must be >= 1)", c.LoginLockoutSecs))
	}

	return errors.Join(errs...)
}
