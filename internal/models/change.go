package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChangeType tags what a pending change request wants to modify. The
// approval engine never inspects the payload; the type only selects which
// applier runs on approval.
type ChangeType string

const (
	ChangeRole    ChangeType = "role"
	ChangeProfile ChangeType = "profile"
	ChangeListing ChangeType = "listing"
	ChangeDispute ChangeType = "dispute"
)

// ChangeRequest statuses.
const (
	ChangePending  = "pending"
	ChangeApproved = "approved"
	ChangeRejected = "rejected"
)

// ChangeRequest is one propose/approve-or-reject record. At most one
// unresolved request exists per (Kind, SubjectID) pair; once resolved the
// row is immutable.
type ChangeRequest struct {
	ID         uuid.UUID       `json:"id"`
	Kind       ChangeType      `json:"kind"`
	SubjectID  string          `json:"subject_id"`
	Payload    json.RawMessage `json:"payload"`
	Status     string          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	ResolvedBy *uuid.UUID      `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (r *ChangeRequest) Resolved() bool { return r.Status != ChangePending }
