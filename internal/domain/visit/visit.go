package visit

import (
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
)

// Status represents visit status.
type Status = lifecycle.State

const (
	StatusRequested Status = "REQUESTED"
	StatusApproved  Status = "APPROVED"
	StatusCountered Status = "COUNTERED"
	StatusRejected  Status = "REJECTED"
	StatusCheckedIn Status = "CHECKED_IN"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

// Open reports whether a visit still occupies the buyer's slot for a property.
func Open(s Status) bool {
	switch s {
	case StatusRequested, StatusCountered, StatusApproved, StatusCheckedIn:
		return true
	}
	return false
}

// Approved reports whether the visit has reached APPROVED or later in the
// successful path. Contact disclosure keys off this.
func Approved(s Status) bool {
	switch s {
	case StatusApproved, StatusCheckedIn, StatusCompleted:
		return true
	}
	return false
}

// Visit is a buyer's request to see a property.
type Visit struct {
	ID               int64      `json:"-"`
	VisitID          uuid.UUID  `json:"visitId"`
	PropertyID       uuid.UUID  `json:"propertyId"`
	BuyerID          uuid.UUID  `json:"buyerId"`
	AgentID          uuid.UUID  `json:"agentId"`
	Status           Status     `json:"status"`
	ScheduledDate    time.Time  `json:"scheduledDate"`
	Message          string     `json:"message,omitempty"`
	CounterDate      *time.Time `json:"counterDate,omitempty"`
	CounterMessage   *string    `json:"counterMessage,omitempty"`
	CounteredBy      *string    `json:"counteredBy,omitempty"`
	CounterRounds    int        `json:"counterRounds"`
	CounterExpiresAt *time.Time `json:"counterExpiresAt,omitempty"`
	OTPDigest        *string    `json:"-"`
	OTPExpiresAt     *time.Time `json:"otpExpiresAt,omitempty"`
	OTPConsumedAt    *time.Time `json:"otpConsumedAt,omitempty"`
	OTPAttempts      int        `json:"otpAttempts"`
	CheckedInAt      *time.Time `json:"checkedInAt,omitempty"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	Reason           *string    `json:"reason,omitempty"`
	Version          int        `json:"version"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (v *Visit) Kind() lifecycle.EntityType { return lifecycle.EntityVisit }
func (v *Visit) Key() uuid.UUID             { return v.VisitID }
func (v *Visit) State() lifecycle.State     { return v.Status }
func (v *Visit) SetState(s lifecycle.State) { v.Status = s }
func (v *Visit) Revision() int              { return v.Version }

func (v *Visit) Facts() lifecycle.Facts {
	by := ""
	if v.CounteredBy != nil {
		by = *v.CounteredBy
	}
	return lifecycle.Facts{
		"status":         string(v.Status),
		"countered_by":   by,
		"counter_rounds": float64(v.CounterRounds),
		"otp_pending":    v.OTPPending(),
		"otp_attempts":   float64(v.OTPAttempts),
	}
}

// OTPPending reports whether an unconsumed code has been issued.
func (v *Visit) OTPPending() bool {
	return v.OTPDigest != nil && v.OTPConsumedAt == nil
}

// ClearCounter drops the outstanding counter proposal.
func (v *Visit) ClearCounter() {
	v.CounterDate = nil
	v.CounterMessage = nil
	v.CounteredBy = nil
	v.CounterExpiresAt = nil
}

// ClearOTP invalidates any issued code without consuming it.
func (v *Visit) ClearOTP() {
	v.OTPDigest = nil
	v.OTPExpiresAt = nil
	v.OTPAttempts = 0
}
