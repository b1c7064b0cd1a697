package models

// OutcomeStatus summarises what happened to an event.
type OutcomeStatus string

const (
	StatusReplied OutcomeStatus = "replied"
	StatusDenied  OutcomeStatus = "denied"
	StatusDropped OutcomeStatus = "dropped"
	StatusFailed  OutcomeStatus = "failed"
)

// Failure classifies why an event did not produce a normal reply.
type Failure string

const (
	FailureNone         Failure = ""
	FailureDenied       Failure = "authorization_denied"
	FailureUnhandled    Failure = "unhandled"
	FailureTransient    Failure = "transient"
	FailurePermanent    Failure = "permanent"
	FailureSessionStore Failure = "session_store"
	FailureInternal     Failure = "internal"
	FailureCanceled     Failure = "canceled"
)

// Outcome is what the core hands back to the transport for one event.
// An empty Reply means nothing should be sent.
type Outcome struct {
	EventID   string        `json:"event_id"`
	Route     Route         `json:"route"`
	Status    OutcomeStatus `json:"status"`
	Reply     string        `json:"reply,omitempty"`
	Failure   Failure       `json:"failure,omitempty"`
	Retryable bool          `json:"retryable,omitempty"`
}
