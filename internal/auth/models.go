package auth

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"zkpauth/internal/claim"
	"zkpauth/internal/identity"
	"zkpauth/internal/proof"
	"zkpauth/internal/session"
)

// WalletInfo is the connected wallet as reported by the wallet provider.
type WalletInfo struct {
	Connected bool
	Address   string
	ChainID   int64
}

// Credentials are a registered user's login input.
type Credentials struct {
	Email    string
	Password string
}

// Registration is the input of Register.
type Registration struct {
	Name     string
	Email    string
	Password string
}

// RegisteredUser is a credential-flow account. The password is stored only as a bcrypt
// hash.
type RegisteredUser struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"passwordHash"`
	IdentityRef  string    `json:"did"`
	ClaimRef     uuid.UUID `json:"claimId"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Result is returned by a successful flow.
type Result struct {
	Identity identity.Identity `json:"identity"`
	Claim    claim.Claim       `json:"claim"`
	Proof    *proof.Proof      `json:"proof"`
	Session  *session.Session  `json:"session"`
	// UpstreamDID is the identity created on a mounted issuer node.
	UpstreamDID string `json:"upstreamDid,omitempty"`
	// QRCode is the claim offer from a mounted issuer node, when it could be fetched.
	QRCode json.RawMessage `json:"qrCode,omitempty"`
}

// RegisterResult is returned by a successful Register.
type RegisterResult struct {
	User     RegisteredUser    `json:"user"`
	Identity identity.Identity `json:"identity"`
	Claim    claim.Claim       `json:"claim"`
}
