package audit

import "time"

// Action enumerates the enrollment lifecycle events worth an audit line.
type Action string

const (
	ActionVerificationStarted Action = "verification_started"
	ActionUserEnrolled        Action = "user_enrolled"
	ActionEnrollmentReplayed  Action = "enrollment_replayed"
	ActionEnrollmentConflict  Action = "enrollment_conflict"
	// ActionEnrollmentUnnotified records the inconsistency window: a user
	// committed to the registry whose allowlist transaction failed.
	ActionEnrollmentUnnotified Action = "enrollment_unnotified"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	Action        Action    `json:"action"`
	RequestID     string    `json:"request_id,omitempty"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	DID           string    `json:"did,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}
