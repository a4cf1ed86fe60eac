package cfg

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel: want %q, got %q", "info", c.LogLevel)
	}
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort: want 9000, got %d", c.AdminPort)
	}
	if !c.EnablePprof {
		t.Error("EnablePprof: want true")
	}
	if c.EnablePyroscope {
		t.Error("EnablePyroscope: want false")
	}
	if c.EnableTracing {
		t.Error("EnableTracing: want false")
	}
	if !c.EnableContentUpdates {
		t.Error("EnableContentUpdates: want true")
	}
	if !c.IncludeErrorLinks {
		t.Error("IncludeErrorLinks: want true")
	}
	if c.StacktraceLevel != "error" {
		t.Errorf("StacktraceLevel: want %q, got %q", "error", c.StacktraceLevel)
	}
	if c.ContentSource != SourceSeed {
		t.Errorf("ContentSource: want %q, got %q", SourceSeed, c.ContentSource)
	}
	if c.Store != StoreMemory {
		t.Errorf("Store: want %q, got %q", StoreMemory, c.Store)
	}
	if c.ContentPollInterval != 30*time.Second {
		t.Errorf("ContentPollInterval: want 30s, got %s", c.ContentPollInterval)
	}
	if c.MenuLevels != 1 {
		t.Errorf("MenuLevels: want 1, got %d", c.MenuLevels)
	}
	if err := Validate(c); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-json=false",
		"-log-level=debug",
		"-http-port=9090",
		"-admin-port=9100",
		"-enable-pprof=false",
		"-enable-pyroscope=true",
		"-enable-tracing=true",
		"-trace-sample=0.5",
		"-stacktrace-level=warn",
		"-include-error-links=false",
		"-max-error-links=16",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-otlp-endpoint=otel:4317",
		"-content-ssm-param=/custom/param",
		"-content-s3-bucket=my-bucket",
		"-content-s3-prefix=my/prefix",
		"-content-source=s3",
		"-content-poll-interval=5s",
		"-store=sqlite",
		"-data-dir=/tmp/menu",
		"-rate-limit-rps=2.5",
		"-menu-levels=3",
		"-site-base-url=https://example.com",
	})

	if c.LogJSON != false {
		t.Error("LogJSON: want false")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9100 {
		t.Errorf("AdminPort: want 9100, got %d", c.AdminPort)
	}
	if c.EnablePprof != false {
		t.Error("EnablePprof: want false")
	}
	if c.EnablePyroscope != true {
		t.Error("EnablePyroscope: want true")
	}
	if c.EnableTracing != true {
		t.Error("EnableTracing: want true")
	}
	if c.TraceSample != 0.5 {
		t.Errorf("TraceSample: want 0.5, got %f", c.TraceSample)
	}
	if c.StacktraceLevel != "warn" {
		t.Errorf("StacktraceLevel: want %q, got %q", "warn", c.StacktraceLevel)
	}
	if c.IncludeErrorLinks != false {
		t.Error("IncludeErrorLinks: want false")
	}
	if c.MaxErrorLinks != 16 {
		t.Errorf("MaxErrorLinks: want 16, got %d", c.MaxErrorLinks)
	}
	if c.PyroServer != "https://pyro:4040" {
		t.Errorf("PyroServer: want %q, got %q", "https://pyro:4040", c.PyroServer)
	}
	if c.PyroTenantID != "test-tenant" {
		t.Errorf("PyroTenantID: want %q, got %q", "test-tenant", c.PyroTenantID)
	}
	if c.OTLPEndpoint != "otel:4317" {
		t.Errorf("OTLPEndpoint: want %q, got %q", "otel:4317", c.OTLPEndpoint)
	}
	if c.ContentSSMParam != "/custom/param" {
		t.Errorf("ContentSSMParam: want %q, got %q", "/custom/param", c.ContentSSMParam)
	}
	if c.ContentS3Bucket != "my-bucket" {
		t.Errorf("ContentS3Bucket: want %q, got %q", "my-bucket", c.ContentS3Bucket)
	}
	if c.ContentS3Prefix != "my/prefix" {
		t.Errorf("ContentS3Prefix: want %q, got %q", "my/prefix", c.ContentS3Prefix)
	}
	if c.ContentSource != SourceS3 {
		t.Errorf("ContentSource: want %q, got %q", SourceS3, c.ContentSource)
	}
	if c.ContentPollInterval != 5*time.Second {
		t.Errorf("ContentPollInterval: want 5s, got %s", c.ContentPollInterval)
	}
	if c.Store != StoreSQLite || c.DataDir != "/tmp/menu" {
		t.Errorf("Store/DataDir: got %q %q", c.Store, c.DataDir)
	}
	if c.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS: want 2.5, got %g", c.RateLimitRPS)
	}
	if c.MenuLevels != 3 {
		t.Errorf("MenuLevels: want 3, got %d", c.MenuLevels)
	}
	if c.SiteBaseURL != "https://example.com" {
		t.Errorf("SiteBaseURL: got %q", c.SiteBaseURL)
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"LOG_JSON", "false")
	t.Setenv(pfx+"LOG_LEVEL", "debug")
	t.Setenv(pfx+"HTTP_PORT", "8088")
	t.Setenv(pfx+"ADMIN_PORT", "9100")
	t.Setenv(pfx+"ENABLE_PPROF", "false")
	t.Setenv(pfx+"ENABLE_PYROSCOPE", "true")
	t.Setenv(pfx+"ENABLE_TRACING", "true")
	t.Setenv(pfx+"TRACE_SAMPLE", "0.25")
	t.Setenv(pfx+"STACKTRACE_LEVEL", "warn")
	t.Setenv(pfx+"INCLUDE_ERROR_LINKS", "false")
	t.Setenv(pfx+"MAX_ERROR_LINKS", "12")
	t.Setenv(pfx+"PYRO_SERVER", "https://pyro:4040")
	t.Setenv(pfx+"OTLP_ENDPOINT", "otel:4317")
	t.Setenv(pfx+"CONTENT_SOURCE", "file")
	t.Setenv(pfx+"CONTENT_FILE", "/etc/menu/site.yaml")
	t.Setenv(pfx+"STORE", "badger")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.LogJSON != false {
		t.Error("LogJSON: want false from env")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.HTTPPort != 8088 {
		t.Errorf("HTTPPort: want 8088, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9100 {
		t.Errorf("AdminPort: want 9100, got %d", c.AdminPort)
	}
	if c.EnablePprof != false {
		t.Error("EnablePprof: want false from env")
	}
	if c.EnablePyroscope != true {
		t.Error("EnablePyroscope: want true from env")
	}
	if c.EnableTracing != true {
		t.Error("EnableTracing: want true from env")
	}
	if c.TraceSample != 0.25 {
		t.Errorf("TraceSample: want 0.25, got %f", c.TraceSample)
	}
	if c.StacktraceLevel != "warn" {
		t.Errorf("StacktraceLevel: want %q, got %q", "warn", c.StacktraceLevel)
	}
	if c.IncludeErrorLinks != false {
		t.Error("IncludeErrorLinks: want false from env")
	}
	if c.MaxErrorLinks != 12 {
		t.Errorf("MaxErrorLinks: want 12, got %d", c.MaxErrorLinks)
	}
	if c.PyroServer != "https://pyro:4040" {
		t.Errorf("PyroServer: want %q, got %q", "https://pyro:4040", c.PyroServer)
	}
	if c.OTLPEndpoint != "otel:4317" {
		t.Errorf("OTLPEndpoint: want %q, got %q", "otel:4317", c.OTLPEndpoint)
	}
	if c.ContentSource != SourceFile || c.ContentFile != "/etc/menu/site.yaml" {
		t.Errorf("content: got source=%q file=%q", c.ContentSource, c.ContentFile)
	}
	if c.Store != StoreBadger {
		t.Errorf("Store: want %q, got %q", StoreBadger, c.Store)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"LOG_LEVEL", "warn")
	t.Setenv(pfx+"ENABLE_PPROF", "false")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-http-port=9090", "-log-level=debug", "-enable-pprof=true"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var overrideMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		overrideMessages = append(overrideMessages, fmt.Sprintf(format, args...))
	})

	// CLI wins
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090 (cli), got %d", c.HTTPPort)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q (cli), got %q", "debug", c.LogLevel)
	}
	if c.EnablePprof != true {
		t.Error("EnablePprof: want true (cli)")
	}

	// Should have logged override messages for all three
	if len(overrideMessages) != 3 {
		t.Errorf("expected 3 override messages, got %d: %v", len(overrideMessages), overrideMessages)
	}
	for _, msg := range overrideMessages {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"HTTP_PORT", "not-a-number")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var logMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	})

	// Should keep default, not crash
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080 (default), got %d", c.HTTPPort)
	}
	// Should have logged the error
	if len(logMessages) != 1 {
		t.Fatalf("expected 1 log message, got %d: %v", len(logMessages), logMessages)
	}
	if !strings.Contains(logMessages[0], "ignoring invalid env") {
		t.Errorf("unexpected log message: %s", logMessages[0])
	}
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-include-error-links=true",
		"-max-error-links=0",
	})

	err := Validate(c)
	if err == nil {
		t.Fatal("Validate() expected errors, got <nil>")
	}

	wantErrContains(t, err, "invalid HTTP_PORT")
	wantErrContains(t, err, "invalid ADMIN_PORT")
	wantErrContains(t, err, "invalid LOG_LEVEL")
	wantErrContains(t, err, "invalid STACKTRACE_LEVEL")
	wantErrContains(t, err, "invalid TRACE_SAMPLE")
	wantErrContains(t, err, "PYRO_SERVER must be a URL")
	wantErrContains(t, err, "OTLP_ENDPOINT must be host:port")
	wantErrContains(t, err, "MAX_ERROR_LINKS")
}

func TestValidate_ContentSource(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"seed", []string{"-content-source=seed"}, ""},
		{"file ok", []string{"-content-source=file", "-content-file=site.json"}, ""},
		{"file missing path", []string{"-content-source=file"}, "CONTENT_FILE required"},
		{"s3 ok", []string{"-content-source=s3"}, ""},
		{"s3 no bucket", []string{"-content-source=s3", "-content-s3-bucket="}, "CONTENT_S3_BUCKET is required"},
		{"s3 no param", []string{"-content-source=s3", "-content-ssm-param="}, "CONTENT_SSM_PARAM is required"},
		{"s3 signature without key", []string{"-content-source=s3", "-require-content-signature"}, "CONTENT_SIGNING_KEY_ARN"},
		{"s3 poll too fast", []string{"-content-source=s3", "-content-poll-interval=10ms"}, "CONTENT_POLL_INTERVAL"},
		{"s3 poll ignored when updates off", []string{"-content-source=s3", "-enable-content-updates=false", "-content-poll-interval=0s"}, ""},
		{"unknown", []string{"-content-source=ftp"}, "invalid CONTENT_SOURCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(newTestConfig(t, tt.args))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			wantErrContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_StoreAndMenu(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"memory without dir", []string{"-store=memory", "-data-dir="}, ""},
		{"badger", []string{"-store=badger", "-data-dir=/data"}, ""},
		{"badger without dir", []string{"-store=badger", "-data-dir="}, "DATA_DIR required when STORE=badger"},
		{"sqlite without dir", []string{"-store=sqlite", "-data-dir="}, "DATA_DIR required when STORE=sqlite"},
		{"unknown store", []string{"-store=redis"}, "invalid STORE"},
		{"negative rps", []string{"-rate-limit-rps=-1"}, "RATE_LIMIT_RPS"},
		{"zero burst", []string{"-rate-limit-burst=0"}, "RATE_LIMIT_BURST"},
		{"rate limit disabled", []string{"-rate-limit-rps=0", "-rate-limit-burst=0"}, ""},
		{"levels too deep", []string{"-menu-levels=11"}, "MENU_LEVELS"},
		{"one proxy", []string{"-trusted-proxy-hops=1"}, ""},
		{"too many proxies", []string{"-trusted-proxy-hops=6"}, "TRUSTED_PROXY_HOPS"},
		{"bad base url", []string{"-site-base-url=example.com"}, "SITE_BASE_URL"},
		{"same ports", []string{"-http-port=9000", "-admin-port=9000"}, "must differ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(newTestConfig(t, tt.args))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			wantErrContains(t, err, tt.wantErr)
		})
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
