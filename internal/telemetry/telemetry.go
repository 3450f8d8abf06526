// Package telemetry reports infrastructure errors to Sentry. Nothing is
// sent unless a DSN is configured.
package telemetry

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ayusman/gasketvision/internal/config"
)

var enabled atomic.Bool

// Init configures the Sentry client. It returns false without error when
// cfg has no DSN and no transport is given. transport is for tests.
func Init(cfg config.SentryConfig, release string, transport sentry.Transport) (bool, error) {
	if cfg.DSN == "" && transport == nil {
		enabled.Store(false)
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Transport:        transport,
		Environment:      cfg.Environment,
		Release:          "gasketvision@" + release,
		SampleRate:       1.0,
		AttachStacktrace: true,
		ServerName:       "",
	})
	if err != nil {
		return false, fmt.Errorf("sentry initialization failed: %w", err)
	}
	enabled.Store(true)
	return true, nil
}

// Enabled reports whether Init configured a client.
func Enabled() bool {
	return enabled.Load()
}

// CaptureError sends err tagged with component and tags.
func CaptureError(err error, component string, tags map[string]string) {
	if err == nil || !enabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		scope.SetFingerprint([]string{component, rootType(err)})
		sentry.CaptureException(err)
	})
}

// Flush waits up to timeout for queued events.
func Flush(timeout time.Duration) {
	if enabled.Load() {
		sentry.Flush(timeout)
	}
}

func rootType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}
