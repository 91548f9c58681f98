// Package proof generates and verifies proofs that a subject holds a claim, without
// revealing the claim's secret inputs to the verifier.
package proof

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCircuitID is the circuit used for credential queries.
const DefaultCircuitID = "credentialAtomicQuerySigV2"

// DefaultMaxAge bounds how old a proof may be when verified.
const DefaultMaxAge = 5 * time.Minute

// signalLength is the number of hex characters kept for each public signal.
const signalLength = 32

// Points are the proof's curve points: A and C carry two coordinates, B is 2x2.
type Points struct {
	A []string   `json:"pi_a"`
	B [][]string `json:"pi_b"`
	C []string   `json:"pi_c"`
}

// Proof is a generated proof. Valid is set by the engine once all points are computed.
type Proof struct {
	ID            uuid.UUID `json:"proofId"`
	CircuitID     string    `json:"circuitId"`
	IssuerDID     string    `json:"issuer"`
	ClaimRef      uuid.UUID `json:"claimId"`
	RequestRef    uuid.UUID `json:"requestId"`
	PublicSignals []string  `json:"pub_signals"`
	Points        Points    `json:"proof"`
	CreatedAt     time.Time `json:"createdAt"`
	Valid         bool      `json:"valid"`
}

// VerificationRequest describes what a verifier asks the prover to show.
type VerificationRequest struct {
	ID             uuid.UUID      `json:"id"`
	CircuitID      string         `json:"circuitId"`
	AllowedIssuers []string       `json:"allowedIssuers"`
	Query          map[string]any `json:"query"`
	CreatedAt      time.Time      `json:"createdAt"`
	// ExpectedClaim pins the request to one claim when set.
	ExpectedClaim *uuid.UUID `json:"expectedClaim,omitempty"`
}

// Circuit declares the public signal layout of a proving circuit.
type Circuit struct {
	ID          string
	SignalCount int
}

// Phase is one observable step of proof generation.
type Phase string

const (
	PhasePreparingCircuit Phase = "preparing_circuit"
	PhaseBuildingWitness  Phase = "building_witness"
	PhaseComputingProof   Phase = "computing_proof"
)

// Progress is emitted when generation enters a phase. Step counts from 1 to Total.
type Progress struct {
	Phase Phase
	Step  int
	Total int
}

// Rejection names why Verify refused a proof.
type Rejection string

const (
	RejectMalformed     Rejection = "malformed"
	RejectNotValid      Rejection = "not_valid"
	RejectSignals       Rejection = "public_signals"
	RejectPoints        Rejection = "proof_points"
	RejectStale         Rejection = "stale"
	RejectClaimMismatch Rejection = "claim_mismatch"
)
