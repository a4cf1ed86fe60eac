package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-menu/internal/health"
	"github.com/keithlinneman/linnemanlabs-menu/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // metrics hook, called after a recovered panic
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe
	ContentInfo  httpmw.ContentInfo // X-Content-Version and X-Content-Hash headers

	// APIRoutes mounts the menu API on the public router.
	APIRoutes func(chi.Router)
}
