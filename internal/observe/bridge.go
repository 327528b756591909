package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/harbor/internal/llmmanager"
	"github.com/MrWong99/harbor/internal/policy"
)

// PolicyRecorder adapts a *Metrics into policy.AuditRecorder, feeding every
// Policy Kernel decision into harbor.policy.decisions.
type PolicyRecorder struct {
	metrics *Metrics
}

// NewPolicyRecorder returns a policy.AuditRecorder backed by m.
func NewPolicyRecorder(m *Metrics) PolicyRecorder {
	return PolicyRecorder{metrics: m}
}

// RecordPolicyEvent implements policy.AuditRecorder.
func (r PolicyRecorder) RecordPolicyEvent(ctx context.Context, event policy.AuditEvent) {
	r.metrics.RecordPolicyDecision(ctx, string(event.Scope), event.Action, event.Allowed)
}

var _ policy.AuditRecorder = PolicyRecorder{}

// LLMMetricsRecorder adapts a *Metrics into llmmanager.MetricsRecorder,
// feeding every chat dispatch into harbor.llm.duration and
// harbor.provider.errors.
type LLMMetricsRecorder struct {
	metrics *Metrics
}

// NewLLMMetricsRecorder returns a llmmanager.MetricsRecorder backed by m.
func NewLLMMetricsRecorder(m *Metrics) LLMMetricsRecorder {
	return LLMMetricsRecorder{metrics: m}
}

// RecordChatLatency implements llmmanager.MetricsRecorder.
func (r LLMMetricsRecorder) RecordChatLatency(providerID, model string, d time.Duration, err error) {
	ctx := context.Background()
	status := "ok"
	if err != nil {
		status = "error"
		r.metrics.RecordProviderError(ctx, providerID, "chat")
	}
	r.metrics.RecordProviderRequest(ctx, providerID, model, status)
	r.metrics.LLMDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", providerID),
			attribute.String("model", model),
		),
	)
}

var _ llmmanager.MetricsRecorder = LLMMetricsRecorder{}
