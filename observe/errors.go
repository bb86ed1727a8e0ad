package observe

import "errors"

var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: sample_pct must be within [0, 1]")
	ErrInvalidTracingExporter = errors.New("observe: unknown tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: unknown metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: unknown log level")

	// ErrNilObserver is returned by constructors handed a nil Observer.
	ErrNilObserver = errors.New("observe: observer is nil")
)

// redacted holds lower-cased log field keys whose values are masked. The
// webhook signature header and the admin bearer token are the usual
// offenders.
var redacted = map[string]struct{}{
	"password":      {},
	"secret":        {},
	"token":         {},
	"signature":     {},
	"authorization": {},
	"api_key":       {},
	"credential":    {},
	"jwt_key":       {},
}
