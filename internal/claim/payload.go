package claim

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Type is the closed set of claim kinds this issuer produces.
type Type string

const (
	TypeWalletOwner      Type = "wallet_owner"
	TypeUserName         Type = "user_name"
	TypeRegistrationDate Type = "registration_date"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeWalletOwner, TypeUserName, TypeRegistrationDate:
		return true
	}
	return false
}

// Payload is the typed data attested by a claim. Each Type has exactly one payload shape.
type Payload interface {
	Type() Type
	Validate() error
	// ToMap returns the serialized form covered by the integrity digest.
	ToMap() map[string]any
}

// WalletOwner attests control of a wallet address on a chain.
type WalletOwner struct {
	Address string
	ChainID int64
}

func (WalletOwner) Type() Type { return TypeWalletOwner }

func (p WalletOwner) Validate() error {
	if !common.IsHexAddress(p.Address) {
		return errors.New("wallet address is malformed")
	}
	if p.ChainID <= 0 {
		return errors.New("chain id must be positive")
	}
	return nil
}

func (p WalletOwner) ToMap() map[string]any {
	return map[string]any{
		"walletAddress": strings.ToLower(p.Address),
		"chainId":       p.ChainID,
	}
}

// UserName attests the display name and email of a registered user.
type UserName struct {
	Name  string
	Email string
}

func (UserName) Type() Type { return TypeUserName }

func (p UserName) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return fmt.Errorf("email is malformed: %w", err)
	}
	return nil
}

func (p UserName) ToMap() map[string]any {
	return map[string]any{
		"name":  p.Name,
		"email": strings.ToLower(p.Email),
	}
}

// RegistrationDate attests when a subject registered.
type RegistrationDate struct {
	RegisteredAt time.Time
}

func (RegistrationDate) Type() Type { return TypeRegistrationDate }

func (p RegistrationDate) Validate() error {
	if p.RegisteredAt.IsZero() {
		return errors.New("registration time is required")
	}
	return nil
}

func (p RegistrationDate) ToMap() map[string]any {
	return map[string]any{
		"registeredAt": p.RegisteredAt.UTC().Format(time.RFC3339Nano),
	}
}

// PayloadFromMap reconstructs the typed payload for t from its serialized form.
func PayloadFromMap(t Type, m map[string]any) (Payload, error) {
	switch t {
	case TypeWalletOwner:
		addr, _ := m["walletAddress"].(string)
		var chainID int64
		switch v := m["chainId"].(type) {
		case float64:
			chainID = int64(v)
		case int64:
			chainID = v
		case int:
			chainID = int64(v)
		}
		return WalletOwner{Address: addr, ChainID: chainID}, nil
	case TypeUserName:
		name, _ := m["name"].(string)
		email, _ := m["email"].(string)
		return UserName{Name: name, Email: email}, nil
	case TypeRegistrationDate:
		raw, _ := m["registeredAt"].(string)
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("registeredAt: %w", err)
		}
		return RegistrationDate{RegisteredAt: at}, nil
	default:
		return nil, fmt.Errorf("unknown claim type %q", t)
	}
}
