package proof

import (
	"context"
	"time"

	"github.com/google/uuid"

	"zkpauth/internal/identity"
)

// DefaultProverDelay approximates the time a real prover spends computing a proof.
const DefaultProverDelay = 2 * time.Second

// Witness is the full input to a prover: the public signals plus the private material
// that must not leave it.
type Witness struct {
	ProofID       uuid.UUID
	CircuitID     string
	SubjectDID    string
	ClaimID       uuid.UUID
	ClaimDigest   string
	PublicSignals []string
	Private       []byte
}

// Prover computes proof points for a witness. Implementations must honour ctx.
type Prover interface {
	Prove(ctx context.Context, w Witness) (Points, error)
}

// SimulatedProver derives points by hashing the proof id after an artificial delay.
// It exposes the same timing and cancellation behaviour as a real prover.
type SimulatedProver struct {
	Delay time.Duration
}

func NewSimulatedProver(delay time.Duration) *SimulatedProver {
	return &SimulatedProver{Delay: delay}
}

func (p *SimulatedProver) Prove(ctx context.Context, w Witness) (Points, error) {
	if p.Delay > 0 {
		timer := time.NewTimer(p.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Points{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Points{}, err
	}

	id := w.ProofID.String()
	h := func(suffix string) string { return identity.Hash(id + ":" + suffix) }
	return Points{
		A: []string{h("pi_a_1"), h("pi_a_2")},
		B: [][]string{
			{h("pi_b_1_1"), h("pi_b_1_2")},
			{h("pi_b_2_1"), h("pi_b_2_2")},
		},
		C: []string{h("pi_c_1"), h("pi_c_2")},
	}, nil
}
