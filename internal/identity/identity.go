// Package identity derives deterministic decentralized identifiers from a wallet address
// or from email and password credentials.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

// Method names the authentication pathway an identity was derived for.
type Method string

const (
	MethodWallet     Method = "wallet"
	MethodCredential Method = "traditional"
)

func (m Method) IsValid() bool {
	return m == MethodWallet || m == MethodCredential
}

func (m Method) String() string { return string(m) }

var (
	ErrUnsupportedMethod = errors.New("unsupported authentication method")
	ErrInvalidPayload    = errors.New("invalid identity payload")
)

// Identity is a derived DID together with its key material. Seed and private material
// never leave the process through serialization.
type Identity struct {
	DID               string    `json:"did"`
	Method            Method    `json:"method"`
	Seed              []byte    `json:"-"`
	PublicKeyMaterial []byte    `json:"publicKey"`
	CreatedAt         time.Time `json:"createdAt"`

	privateKeyMaterial []byte
}

// PrivateKeyMaterial returns the private half derived from the seed.
func (i Identity) PrivateKeyMaterial() []byte {
	return i.privateKeyMaterial
}

// PublicKeyMultibase encodes the public material as a base58btc multibase string.
func (i Identity) PublicKeyMultibase() string {
	return "z" + base58.Encode(i.PublicKeyMaterial)
}

// Fingerprint is a short display form of the public material.
func (i Identity) Fingerprint() string {
	n := len(i.PublicKeyMaterial)
	if n > 8 {
		n = 8
	}
	return base58.Encode(i.PublicKeyMaterial[:n])
}

// Hash returns the lowercase hex SHA-256 digest of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// FormatAddress shortens a wallet address for display, keeping chars hex digits on each
// side: 0x1234...abcd.
func FormatAddress(address string, chars int) string {
	if chars <= 0 || len(address) <= 2+2*chars {
		return address
	}
	return address[:chars+2] + "..." + address[len(address)-chars:]
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
