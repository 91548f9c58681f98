// Package claim issues attestations bound to a subject DID and protected by an
// integrity digest.
package claim

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"zkpauth/internal/identity"
)

// ProofTypeSparseMerkle labels the integrity digest carried by every claim.
const ProofTypeSparseMerkle = "iden3SparseMerkleTreeProof"

// IntegrityProof binds the claim id, subject and data together.
type IntegrityProof struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Claim is an issued attestation. Claims are immutable once issued.
type Claim struct {
	ID         uuid.UUID
	Type       Type
	IssuerDID  string
	SubjectDID string
	Data       Payload
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Proof      IntegrityProof
	// UpstreamID is the identifier assigned by a remote issuer node, when one is mounted.
	UpstreamID string
}

// Digest computes the integrity digest over id, subject and data.
func Digest(id uuid.UUID, subjectDID string, data Payload) (string, error) {
	// encoding/json sorts map keys, so the serialization is canonical
	serialized, err := json.Marshal(data.ToMap())
	if err != nil {
		return "", fmt.Errorf("serialize claim data: %w", err)
	}
	return identity.Hash(id.String() + ":" + subjectDID + ":" + string(serialized)), nil
}

// VerifyIntegrity reports whether the stored digest still matches the claim contents.
func (c Claim) VerifyIntegrity() bool {
	if c.Data == nil || c.Proof.Type != ProofTypeSparseMerkle {
		return false
	}
	digest, err := Digest(c.ID, c.SubjectDID, c.Data)
	if err != nil {
		return false
	}
	return digest == c.Proof.Value
}

// IsExpired is true iff now is after ExpiresAt.
func (c Claim) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

type claimJSON struct {
	ID         uuid.UUID      `json:"id"`
	Type       Type           `json:"type"`
	IssuerDID  string         `json:"issuer"`
	SubjectDID string         `json:"subject"`
	Data       map[string]any `json:"data"`
	IssuedAt   time.Time      `json:"issuedAt"`
	ExpiresAt  time.Time      `json:"expiresAt"`
	Proof      IntegrityProof `json:"proof"`
	UpstreamID string         `json:"upstreamId,omitempty"`
}

func (c Claim) MarshalJSON() ([]byte, error) {
	var data map[string]any
	if c.Data != nil {
		data = c.Data.ToMap()
	}
	return json.Marshal(claimJSON{
		ID:         c.ID,
		Type:       c.Type,
		IssuerDID:  c.IssuerDID,
		SubjectDID: c.SubjectDID,
		Data:       data,
		IssuedAt:   c.IssuedAt,
		ExpiresAt:  c.ExpiresAt,
		Proof:      c.Proof,
		UpstreamID: c.UpstreamID,
	})
}

func (c *Claim) UnmarshalJSON(b []byte) error {
	var raw claimJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	data, err := PayloadFromMap(raw.Type, raw.Data)
	if err != nil {
		return err
	}
	*c = Claim{
		ID:         raw.ID,
		Type:       raw.Type,
		IssuerDID:  raw.IssuerDID,
		SubjectDID: raw.SubjectDID,
		Data:       data,
		IssuedAt:   raw.IssuedAt,
		ExpiresAt:  raw.ExpiresAt,
		Proof:      raw.Proof,
		UpstreamID: raw.UpstreamID,
	}
	return nil
}
