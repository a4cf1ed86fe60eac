package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	EnablePprof bool

	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64

	ContentSource           string
	ContentFile             string
	WatchContentFile        bool
	EnableContentUpdates    bool
	ContentPollInterval     time.Duration
	ContentSSMParam         string
	ContentS3Bucket         string
	ContentS3Prefix         string
	ContentSigningKeyARN    string
	RequireContentSignature bool

	Store   string
	DataDir string

	RateLimitRPS     float64
	RateLimitBurst   int
	TrustedProxyHops int

	SiteBaseURL string
	URLPrefix   string
	MenuLevels  int
}

const (
	SourceSeed = "seed"
	SourceFile = "file"
	SourceS3   = "s3"

	StoreMemory = "memory"
	StoreBadger = "badger"
	StoreSQLite = "sqlite"
)

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")

	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.ContentSource, "content-source", SourceSeed, "where content is loaded from: seed|file|s3")
	fs.StringVar(&c.ContentFile, "content-file", "", "content document (.json, .yaml, .toml) when -content-source=file")
	fs.BoolVar(&c.WatchContentFile, "watch-content-file", true, "reload -content-file when it changes")
	fs.BoolVar(&c.EnableContentUpdates, "enable-content-updates", true, "poll SSM for new content bundles when -content-source=s3")
	fs.DurationVar(&c.ContentPollInterval, "content-poll-interval", 30*time.Second, "how often to poll SSM for a new bundle hash")
	fs.StringVar(&c.ContentSSMParam, "content-ssm-param", "/app/linnemanlabs-menu/server/content/stable/release/id", "ssm parameter name to get content bundle hash from")
	fs.StringVar(&c.ContentS3Bucket, "content-s3-bucket", "phxi-build-prod-use2-deployment-artifacts", "s3 bucket name to get content bundle from")
	fs.StringVar(&c.ContentS3Prefix, "content-s3-prefix", "apps/linnemanlabs-menu/server/content/bundles", "s3 prefix (key) to get content bundle from")
	fs.StringVar(&c.ContentSigningKeyARN, "content-signing-key-arn", "", "KMS key ARN for content bundle signature verification")
	fs.BoolVar(&c.RequireContentSignature, "require-content-signature", false, "reject s3 bundles without a valid signature")

	fs.StringVar(&c.Store, "store", StoreMemory, "content store backend: memory|badger|sqlite")
	fs.StringVar(&c.DataDir, "data-dir", "/var/lib/linnemanlabs-menu", "directory for badger/sqlite data")

	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 20, "per-client requests per second (0 disables)")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 40, "per-client burst size")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies in front of the server whose X-Forwarded-For is trusted (0..5)")

	fs.StringVar(&c.SiteBaseURL, "site-base-url", "", "base URL for absolute menu links (https://host)")
	fs.StringVar(&c.URLPrefix, "url-prefix", "", "prefix prepended to menu link paths")
	fs.IntVar(&c.MenuLevels, "menu-levels", 1, "default menu depth when ?levels is not given (1..10)")
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

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL, scheme and tenant)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Content source
	switch c.ContentSource {
	case SourceSeed:
	case SourceFile:
		if c.ContentFile == "" {
			errs = append(errs, fmt.Errorf("CONTENT_FILE required when CONTENT_SOURCE=file"))
		}
	case SourceS3:
		if c.ContentSSMParam == "" {
			errs = append(errs, fmt.Errorf("CONTENT_SSM_PARAM is required when CONTENT_SOURCE=s3"))
		}
		if c.ContentS3Bucket == "" {
			errs = append(errs, fmt.Errorf("CONTENT_S3_BUCKET is required when CONTENT_SOURCE=s3"))
		}
		if c.RequireContentSignature && c.ContentSigningKeyARN == "" {
			errs = append(errs, fmt.Errorf("CONTENT_SIGNING_KEY_ARN is required when REQUIRE_CONTENT_SIGNATURE=true"))
		}
		if c.EnableContentUpdates && c.ContentPollInterval < time.Second {
			errs = append(errs, fmt.Errorf("CONTENT_POLL_INTERVAL must be at least 1s (got %s)", c.ContentPollInterval))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid CONTENT_SOURCE %q (must be seed|file|s3)", c.ContentSource))
	}

	// Store backend
	switch c.Store {
	case StoreMemory:
	case StoreBadger, StoreSQLite:
		if c.DataDir == "" {
			errs = append(errs, fmt.Errorf("DATA_DIR required when STORE=%s", c.Store))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE %q (must be memory|badger|sqlite)", c.Store))
	}

	// Rate limiting
	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be >= 0 (got %g)", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be >= 1 when rate limiting (got %d)", c.RateLimitBurst))
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 5 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be between 0 and 5 (got %d)", c.TrustedProxyHops))
	}

	// Menus
	if c.SiteBaseURL != "" {
		if u, err := url.Parse(c.SiteBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("SITE_BASE_URL must be a URL (got %q)", c.SiteBaseURL))
		}
	}
	if c.MenuLevels < 1 || c.MenuLevels > 10 {
		errs = append(errs, fmt.Errorf("MENU_LEVELS must be 1..10 (got %d)", c.MenuLevels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
