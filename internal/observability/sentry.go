package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry is a no-op without a DSN; capture calls then do nothing.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		ServerName:       "auth-service",
		AttachStacktrace: true,
		SendDefaultPII:   false,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
