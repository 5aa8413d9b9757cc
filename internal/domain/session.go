// Package domain contains core domain types for the intake service.
package domain

import (
	"time"
)

// Session is the durable record of one intake conversation.
type Session struct {
	ID            string     `json:"id"`
	ClientID      string     `json:"client_id,omitempty"`
	ZipCode       string     `json:"zip_code,omitempty"`
	FullName      string     `json:"full_name,omitempty"`
	Email         string     `json:"email,omitempty"`
	LicenseType   string     `json:"license_type,omitempty"`
	LicenseStatus string     `json:"license_status,omitempty"`
	CurrentStep   string     `json:"current_step"`
	IsComplete    bool       `json:"is_complete"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Duration returns how long the intake took, or 0 while it is still open.
func (s *Session) Duration() time.Duration {
	if s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}
