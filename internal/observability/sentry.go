package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter sends infrastructure errors to Sentry. A Reporter without a DSN
// drops everything.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter initialises the Sentry client. An empty dsn yields a no-op Reporter.
func NewReporter(dsn, environment string) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{}, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise sentry: %w", err)
	}

	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Enabled reports whether errors are forwarded
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// CaptureError reports err with tags. Safe on a nil or disabled Reporter.
func (r *Reporter) CaptureError(ctx context.Context, err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}

	hub := r.hub
	if ctxHub := sentry.GetHubFromContext(ctx); ctxHub != nil {
		hub = ctxHub
	}

	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent
func (r *Reporter) Flush() {
	if r.Enabled() {
		r.hub.Flush(2 * time.Second)
	}
}
