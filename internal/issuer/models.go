package issuer

import "encoding/json"

// DIDMetadata selects the DID method and network for identities created upstream.
type DIDMetadata struct {
	Method     string `json:"method"`
	Blockchain string `json:"blockchain"`
	Network    string `json:"network"`
	Type       string `json:"type"`
}

// DefaultDIDMetadata creates Baby Jubjub identities on Polygon Amoy.
var DefaultDIDMetadata = DIDMetadata{
	Method:     "iden3",
	Blockchain: "polygon",
	Network:    "amoy",
	Type:       "BJJ",
}

type createIdentityRequest struct {
	DIDMetadata DIDMetadata `json:"didMetadata"`
}

// IdentityResponse is the upstream identity record.
type IdentityResponse struct {
	Identifier string          `json:"identifier"`
	State      json.RawMessage `json:"state,omitempty"`
}

// CredentialSchema references the JSON schema a claim conforms to.
type CredentialSchema struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// ClaimRequest is the body of POST /v1/{did}/claims. Zero fields are filled from the
// defaults by WithDefaults.
type ClaimRequest struct {
	CredentialSubject    map[string]any    `json:"credentialSubject"`
	Type                 string            `json:"type"`
	Context              []string          `json:"context,omitempty"`
	CredentialSchema     *CredentialSchema `json:"credentialSchema,omitempty"`
	Expiration           *int64            `json:"expiration"`
	SubjectPosition      string            `json:"subjectPosition,omitempty"`
	MerklizeRootPosition string            `json:"merklizeRootPosition,omitempty"`
	RevNonce             *uint64           `json:"revNonce"`
	Version              int               `json:"version"`
	Updatable            bool              `json:"updatable"`
}

const (
	defaultCredentialType = "KYCAgeCredential"
	defaultSchemaID       = "https://raw.githubusercontent.com/iden3/claim-schema-vocab/main/schemas/json/KYCAgeCredential-v4.json"
	defaultSchemaType     = "JsonSchema2023"
	positionNone          = "none"
)

var defaultContext = []string{
	"https://www.w3.org/2018/credentials/v1",
	"https://schema.iden3.io/core/jsonld/iden3proofs.jsonld",
	"https://raw.githubusercontent.com/iden3/claim-schema-vocab/main/schemas/json-ld/kyc-v4.jsonld",
}

// WithDefaults returns a copy of r with unset fields defaulted.
func (r ClaimRequest) WithDefaults() ClaimRequest {
	if r.Type == "" {
		r.Type = defaultCredentialType
	}
	if len(r.Context) == 0 {
		r.Context = append([]string(nil), defaultContext...)
	}
	if r.CredentialSchema == nil {
		r.CredentialSchema = &CredentialSchema{ID: defaultSchemaID, Type: defaultSchemaType}
	}
	if r.SubjectPosition == "" {
		r.SubjectPosition = positionNone
	}
	if r.MerklizeRootPosition == "" {
		r.MerklizeRootPosition = positionNone
	}
	return r
}

// ClaimResponse is the upstream claim record; only the id is interpreted.
type ClaimResponse struct {
	ID string `json:"id"`
}

// VerifyRequest is the body of POST /v1/verification.
type VerifyRequest struct {
	Proof         json.RawMessage `json:"proof"`
	PublicSignals []string        `json:"publicSignals"`
}
