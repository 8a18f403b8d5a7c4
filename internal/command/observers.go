package command

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/seqctl/internal/observability"
	"github.com/pitabwire/seqctl/model"
)

// OutcomeOK is the outcome of a successful invocation. Failed invocations
// report their error code.
const OutcomeOK = "ok"

// Observer receives one Event per finished invocation.
type Observer interface {
	OnInvocation(ctx context.Context, event Event)
}

// Event describes the outcome of one invocation.
type Event struct {
	InvocationID string        `json:"invocation_id"`
	Operation    string        `json:"operation"`
	Region       string        `json:"region"`
	Profile      string        `json:"profile"`
	Outcome      string        `json:"outcome"`
	Duration     time.Duration `json:"duration"`
	Replayed     bool          `json:"replayed,omitempty"`
	Missing      []string      `json:"missing,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// MetricsObserver records invocation metrics.
type MetricsObserver struct {
	metrics *observability.Metrics
}

// NewMetricsObserver creates an observer writing to m.
func NewMetricsObserver(m *observability.Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

// OnInvocation implements Observer.
func (o *MetricsObserver) OnInvocation(_ context.Context, e Event) {
	o.metrics.RecordInvocation(e.Operation, e.Outcome, e.Duration)
	for _, p := range e.Missing {
		o.metrics.RecordMandatoryWarning(e.Operation, p)
	}
	if e.Replayed {
		o.metrics.RecordIdempotentReplay(e.Operation)
	}
}

// AuditObserver writes one structured log line per invocation.
type AuditObserver struct {
	logger *zap.Logger
}

// NewAuditObserver creates an observer logging to logger.
func NewAuditObserver(logger *zap.Logger) *AuditObserver {
	return &AuditObserver{logger: logger.Named("audit")}
}

// OnInvocation implements Observer.
func (o *AuditObserver) OnInvocation(ctx context.Context, e Event) {
	fields := []zap.Field{
		zap.String("invocation_id", e.InvocationID),
		zap.String("operation", e.Operation),
		zap.String("region", e.Region),
		zap.String("profile", e.Profile),
		zap.String("outcome", e.Outcome),
		zap.Duration("duration", e.Duration),
	}
	if e.Replayed {
		fields = append(fields, zap.Bool("replayed", true))
	}
	if len(e.Missing) > 0 {
		fields = append(fields, zap.Strings("missing", e.Missing))
	}
	if traceID := observability.TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}

	if e.Outcome == OutcomeOK {
		o.logger.Info("invocation completed", fields...)
		return
	}
	o.logger.Warn("invocation failed", append(fields, zap.String("error", e.Error))...)
}

func newEvent(inv *model.Invocation, operation string, d time.Duration, replayed bool, err error) Event {
	e := Event{
		Operation: operation,
		Outcome:   OutcomeOK,
		Duration:  d,
		Replayed:  replayed,
	}
	if inv != nil {
		e.InvocationID = inv.ID
		e.Operation = inv.Operation
		e.Region = inv.Scope.Region
		e.Profile = inv.Scope.Profile
		e.Missing = inv.Missing
	}
	if err != nil {
		e.Outcome = model.ErrorCode(err)
		e.Error = err.Error()
	}
	return e
}
