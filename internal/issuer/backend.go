package issuer

import (
	"context"

	"zkpauth/internal/claim"
)

// ClaimBackend anchors locally issued claims on the issuer node, under the issuer's own
// DID with the holder as credential subject.
type ClaimBackend struct {
	gateway Gateway
}

func NewClaimBackend(gateway Gateway) *ClaimBackend {
	return &ClaimBackend{gateway: gateway}
}

func (b *ClaimBackend) CreateClaim(ctx context.Context, c claim.Claim) (string, error) {
	subject := map[string]any{"id": c.SubjectDID, "claimType": string(c.Type)}
	for k, v := range c.Data.ToMap() {
		subject[k] = v
	}
	expiration := c.ExpiresAt.Unix()
	resp, err := b.gateway.CreateClaim(ctx, c.IssuerDID, ClaimRequest{
		CredentialSubject: subject,
		Expiration:        &expiration,
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}
