package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"
)

type signaturePayload struct {
	AuditID    string `json:"auditId"`
	ActorID    string `json:"actorId,omitempty"`
	ActorRole  string `json:"actorRole"`
	Action     string `json:"action"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	PriorState string `json:"priorState,omitempty"`
	NewState   string `json:"newState"`
	Details    string `json:"details,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

func buildSignaturePayload(e *Entry) signaturePayload {
	payload := signaturePayload{
		AuditID:    e.AuditID.String(),
		ActorRole:  e.ActorRole,
		Action:     e.Action,
		EntityType: string(e.EntityType),
		EntityID:   e.EntityID.String(),
		PriorState: string(e.PriorState),
		NewState:   string(e.NewState),
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.ActorID != nil {
		payload.ActorID = e.ActorID.String()
	}
	if len(e.Details) > 0 {
		payload.Details = base64.StdEncoding.EncodeToString(e.Details)
	}
	return payload
}

// Sign generates an HMAC signature for the entry.
func Sign(e *Entry, key []byte) ([]byte, error) {
	data, err := json.Marshal(buildSignaturePayload(e))
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(data)
	return mac.Sum(nil), nil
}

// Verify checks the entry's HMAC signature.
func Verify(e *Entry, key []byte) (bool, error) {
	if len(e.Signature) == 0 {
		return false, nil
	}
	expected, err := Sign(e, key)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, e.Signature), nil
}
