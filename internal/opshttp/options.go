package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-menu/internal/health"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	Metrics      http.Handler
	EnablePprof  bool
	Health       health.Probe
	Readiness    health.Probe
	UseRecoverMW bool
	OnPanic      func() // called after a recovered panic, e.g. to count it
}
