// Package telemetry wires optional Sentry error reporting.
package telemetry

import (
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/privacy"
)

// DefaultFlushTimeout bounds Flush during shutdown.
const DefaultFlushTimeout = 2 * time.Second

// InitSentry initializes the Sentry SDK when enabled and routes enhanced
// errors to it. role is "node" or "server" and is attached as a tag.
func InitSentry(settings *conf.SentrySettings, release, role string) error {
	return initSentry(settings, release, role, nil)
}

func initSentry(settings *conf.SentrySettings, release, role string, transport sentry.Transport) error {
	if settings == nil || !settings.Enabled {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      settings.Environment,
		Release:          release,
		SampleRate:       1.0,
		Debug:            false,
		AttachStacktrace: false,
		ServerName:       "",
		Transport:        transport,
		BeforeSend:       createBeforeSendHook(role),
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("dsn", privacy.RedactURL(settings.DSN)).
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	return nil
}

// Flush waits for buffered events. It is a no-op when Sentry was never initialized.
func Flush(timeout time.Duration) {
	if sentry.CurrentHub().Client() == nil {
		return
	}
	sentry.Flush(timeout)
}

// createBeforeSendHook strips host identity and scrubs URLs from event text.
func createBeforeSendHook(role string) func(*sentry.Event, *sentry.EventHint) *sentry.Event {
	return func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
		applyPrivacyFilters(event)
		if event.Tags == nil {
			event.Tags = make(map[string]string)
		}
		event.Tags["role"] = role
		event.Tags["os"] = runtime.GOOS
		event.Tags["arch"] = runtime.GOARCH
		return event
	}
}

func applyPrivacyFilters(event *sentry.Event) {
	event.ServerName = ""
	event.User = sentry.User{}
	event.Request = nil
	delete(event.Contexts, "device")
	delete(event.Contexts, "os")
	delete(event.Contexts, "runtime")

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	for i := range event.Breadcrumbs {
		event.Breadcrumbs[i].Message = privacy.ScrubMessage(event.Breadcrumbs[i].Message)
	}
}
