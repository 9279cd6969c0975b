package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTrialStart  EventType = "trial_start"
	EventTrialEnd    EventType = "trial_end"
	EventMessage     EventType = "message"
	EventServerStart EventType = "server_start"
	EventServerStop  EventType = "server_stop"
	EventCoverage    EventType = "coverage"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
}

// TrialEvent is emitted when a trial begins and when it is consumed.
// Result is nil on EventTrialStart.
type TrialEvent struct {
	EventBase
	Trial  Trial        `json:"trial"`
	Result *TrialResult `json:"-"`
}

// MessageEvent is emitted for every transmitted message.
type MessageEvent struct {
	EventBase
	Message SentMessage `json:"-"`
	Media   string      `json:"media,omitempty"`
}

// ServerEvent is emitted around the server lifecycle.
type ServerEvent struct {
	EventBase
	Label    string        `json:"label"`
	PID      int           `json:"pid,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// CoverageEvent is emitted after a claim attempt. Path is empty when nothing was found.
type CoverageEvent struct {
	EventBase
	Label string `json:"label"`
	Path  string `json:"path,omitempty"`
}

// LifecycleHooks defines callbacks for harness observability. Nil hooks are skipped.
type LifecycleHooks struct {
	OnTrialStart  func(context.Context, *TrialEvent)
	OnTrialEnd    func(context.Context, *TrialEvent)
	OnMessage     func(context.Context, *MessageEvent)
	OnServerStart func(context.Context, *ServerEvent)
	OnServerStop  func(context.Context, *ServerEvent)
	OnCoverage    func(context.Context, *CoverageEvent)
}

// Combine returns hooks that call every given hook set in order.
func Combine(sets ...LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnTrialStart: func(ctx context.Context, e *TrialEvent) {
			for _, s := range sets {
				if s.OnTrialStart != nil {
					s.OnTrialStart(ctx, e)
				}
			}
		},
		OnTrialEnd: func(ctx context.Context, e *TrialEvent) {
			for _, s := range sets {
				if s.OnTrialEnd != nil {
					s.OnTrialEnd(ctx, e)
				}
			}
		},
		OnMessage: func(ctx context.Context, e *MessageEvent) {
			for _, s := range sets {
				if s.OnMessage != nil {
					s.OnMessage(ctx, e)
				}
			}
		},
		OnServerStart: func(ctx context.Context, e *ServerEvent) {
			for _, s := range sets {
				if s.OnServerStart != nil {
					s.OnServerStart(ctx, e)
				}
			}
		},
		OnServerStop: func(ctx context.Context, e *ServerEvent) {
			for _, s := range sets {
				if s.OnServerStop != nil {
					s.OnServerStop(ctx, e)
				}
			}
		},
		OnCoverage: func(ctx context.Context, e *CoverageEvent) {
			for _, s := range sets {
				if s.OnCoverage != nil {
					s.OnCoverage(ctx, e)
				}
			}
		},
	}
}
