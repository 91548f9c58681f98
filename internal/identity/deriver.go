package identity

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// didHashLength is the number of hex characters of the seed hash kept in a DID.
const didHashLength = 40

// DefaultNamespace is the DID method-specific prefix used when none is configured.
const DefaultNamespace = "iden3:polygon:amoy"

// Payload is the input for one derivation method.
type Payload interface {
	method() Method
}

// WalletPayload derives an identity from a connected wallet address.
type WalletPayload struct {
	Address string
}

func (WalletPayload) method() Method { return MethodWallet }

// CredentialPayload derives an identity from registered credentials. The password is
// consumed during derivation and not retained.
type CredentialPayload struct {
	Email    string
	Password string
}

func (CredentialPayload) method() Method { return MethodCredential }

// Deriver turns payloads into identities. It performs no I/O.
type Deriver struct {
	walletNamespace     string
	credentialNamespace string
	clock               func() time.Time
}

type Option func(*Deriver)

// WithNamespaces sets the DID namespace per method, e.g. "iden3:polygon:amoy".
func WithNamespaces(wallet, credential string) Option {
	return func(d *Deriver) {
		if wallet != "" {
			d.walletNamespace = wallet
		}
		if credential != "" {
			d.credentialNamespace = credential
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(d *Deriver) {
		if clock != nil {
			d.clock = clock
		}
	}
}

func NewDeriver(opts ...Option) *Deriver {
	d := &Deriver{
		walletNamespace:     DefaultNamespace,
		credentialNamespace: DefaultNamespace,
		clock:               time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Derive computes the identity for payload under method. The same (method, payload)
// always yields the same DID and key material.
func (d *Deriver) Derive(method Method, payload Payload) (Identity, error) {
	if !method.IsValid() {
		return Identity{}, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	if payload == nil || payload.method() != method {
		return Identity{}, fmt.Errorf("%w: payload does not match method %s", ErrInvalidPayload, method)
	}

	var (
		seed      string
		namespace string
	)
	switch p := payload.(type) {
	case WalletPayload:
		if !common.IsHexAddress(p.Address) || !strings.HasPrefix(strings.ToLower(p.Address), "0x") {
			return Identity{}, fmt.Errorf("%w: malformed wallet address", ErrInvalidPayload)
		}
		seed = strings.ToLower(p.Address)
		namespace = d.walletNamespace
	case CredentialPayload:
		email := normalizeEmail(p.Email)
		if email == "" || p.Password == "" {
			return Identity{}, fmt.Errorf("%w: email and password are required", ErrInvalidPayload)
		}
		seed = Hash(email + ":" + p.Password)
		namespace = d.credentialNamespace
	}

	return d.fromSeed(method, namespace, seed), nil
}

// DIDFor returns the DID that Derive would produce for a wallet address without
// building key material.
func (d *Deriver) DIDFor(address string) string {
	return formatDID(d.walletNamespace, strings.ToLower(address))
}

func (d *Deriver) fromSeed(method Method, namespace, seed string) Identity {
	return Identity{
		DID:                formatDID(namespace, seed),
		Method:             method,
		Seed:               []byte(seed),
		PublicKeyMaterial:  mustDecode(Hash(seed + ":public")),
		privateKeyMaterial: mustDecode(Hash(seed + ":private")),
		CreatedAt:          d.clock(),
	}
}

func formatDID(namespace, seed string) string {
	return "did:" + namespace + ":" + Hash(seed)[:didHashLength]
}

func mustDecode(h string) []byte {
	b, err := hex.DecodeString(h)
	if err != nil {
		panic("identity: hash is not hex: " + err.Error())
	}
	return b
}
