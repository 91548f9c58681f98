package audit

import "time"

// Category classifies audit events by their primary purpose.
type Category string

const (
	// CategoryCompliance covers account lifecycle events.
	CategoryCompliance Category = "compliance"
	// CategorySecurity covers failed and revoked authentications.
	CategorySecurity Category = "security"
	// CategoryOperations covers routine session activity.
	CategoryOperations Category = "operations"
)

type Action string

const (
	ActionUserRegistered Action = "user_registered"
	ActionSessionCreated Action = "session_created"
	ActionSessionRevoked Action = "session_revoked"
	ActionAuthFailed     Action = "auth_failed"
)

// Category returns the category an action is routed under.
func (a Action) Category() Category {
	switch a {
	case ActionUserRegistered:
		return CategoryCompliance
	case ActionAuthFailed, ActionSessionRevoked:
		return CategorySecurity
	default:
		return CategoryOperations
	}
}

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Category   Category  `json:"category"`
	Action     Action    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
	SubjectDID string    `json:"did,omitempty"`
	Method     string    `json:"method,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	// Reason is the error kind for auth_failed events.
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	ClientIP  string `json:"clientIp,omitempty"`
}
