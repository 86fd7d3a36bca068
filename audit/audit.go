// Package audit defines the audit sink collaborator: a narrow contract for
// recording install decisions and workflow rollbacks. Audit failures never
// block the primary flow.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Outcome classifies an audited decision.
type Outcome string

const (
	OutcomeAllowed  Outcome = "allowed"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeFailed   Outcome = "failed"
	OutcomeSuccess  Outcome = "success"
	OutcomeCacheHit Outcome = "cache_hit"
	OutcomeRollback Outcome = "rollback"
)

// Event is a structured audit record: who did what, when, and how it ended.
type Event struct {
	Time      time.Time `json:"time"`
	Actor     string    `json:"actor,omitempty"`
	Action    string    `json:"action"`
	SkillID   string    `json:"skill_id,omitempty"`
	Ecosystem string    `json:"ecosystem,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Packages  []string  `json:"packages,omitempty"`
}

// Sink receives audit events. Implementations must not block the caller on
// failure; errors are theirs to log.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// ZapSink writes audit events to a zap logger.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates an audit sink backed by a zap logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.With(zap.String("component", "audit"))}
}

// Record implements Sink.
func (s *ZapSink) Record(_ context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	s.logger.Info("audit event",
		zap.String("action", event.Action),
		zap.String("skill_id", event.SkillID),
		zap.String("ecosystem", event.Ecosystem),
		zap.String("outcome", string(event.Outcome)),
		zap.String("detail", event.Detail),
		zap.Strings("packages", event.Packages),
		zap.Time("time", event.Time))
}

// NopSink discards all events.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Event) {}
