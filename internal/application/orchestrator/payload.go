package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/property"
)

// Payload is the union of the fields any trigger accepts. Unknown fields are
// rejected.
type Payload struct {
	property.Draft

	Version *int `json:"version,omitempty"`

	Reason  *string    `json:"reason,omitempty"`
	Final   bool       `json:"final,omitempty"`
	AgentID *uuid.UUID `json:"agent_id,omitempty"`

	Date    *time.Time `json:"date,omitempty"`
	Message *string    `json:"message,omitempty"`
	Amount  *int64     `json:"amount,omitempty"`

	OTP       string   `json:"otp,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	LicenseNumber   *string  `json:"license_number,omitempty"`
	Agency          *string  `json:"agency,omitempty"`
	YearsExperience *int     `json:"years_experience,omitempty"`
	ServiceAreas    []string `json:"service_areas,omitempty"`
}

func decodePayload(raw json.RawMessage) (*Payload, error) {
	p := &Payload{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, &lifecycle.Error{Code: lifecycle.CodeValidation, Message: "invalid payload", Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, lifecycle.Validation("invalid payload: trailing data")
	}
	return p, nil
}

func (p *Payload) reason() string {
	if p == nil || p.Reason == nil {
		return ""
	}
	return strings.TrimSpace(*p.Reason)
}

func (p *Payload) message() *string {
	if p == nil || p.Message == nil {
		return nil
	}
	m := strings.TrimSpace(*p.Message)
	return &m
}
