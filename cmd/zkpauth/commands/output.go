package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"zkpauth/internal/auth"
	"zkpauth/internal/identity"
	"zkpauth/internal/proof"
	"zkpauth/internal/session"
)

var (
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan)
	yellow = color.New(color.FgYellow)
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printError(err error) {
	var ae *auth.Error
	if errors.As(err, &ae) {
		color.Red("Error (%s): %s\n", ae.Kind, ae.Message)
		return
	}
	color.Red("Error: %v\n", err)
}

var phaseLabels = map[proof.Phase]string{
	proof.PhasePreparingCircuit: "preparing circuit",
	proof.PhaseBuildingWitness:  "building witness",
	proof.PhaseComputingProof:   "computing proof",
}

// progress prints one line per proof generation phase.
func progress(p proof.Progress) {
	_, _ = yellow.Printf("  [%d/%d] %s\n", p.Step, p.Total, phaseLabels[p.Phase])
}

func printSession(s *session.Session, now time.Time) {
	_, _ = green.Println("Authenticated")
	_, _ = cyan.Print("  DID:      ")
	fmt.Println(s.SubjectDID)
	_, _ = cyan.Print("  Method:   ")
	fmt.Println(s.Method)
	_, _ = cyan.Print("  Session:  ")
	fmt.Println(s.ID)
	_, _ = cyan.Print("  Expires:  ")
	fmt.Printf("%s (in %s)\n", s.ExpiresAt.Format(time.RFC3339), s.ExpiresAt.Sub(now).Round(time.Minute))
}

func printIdentity(id identity.Identity) {
	_, _ = cyan.Print("  DID:         ")
	fmt.Println(id.DID)
	_, _ = cyan.Print("  Public key:  ")
	fmt.Println(id.PublicKeyMultibase())
	_, _ = cyan.Print("  Fingerprint: ")
	fmt.Println(id.Fingerprint())
}

func printResult(res *auth.Result) {
	printSession(res.Session, time.Now())
	_, _ = cyan.Print("  Claim:    ")
	fmt.Printf("%s (%s)\n", res.Claim.ID, res.Claim.Type)
	_, _ = cyan.Print("  Proof:    ")
	fmt.Printf("%s signals=%s\n", res.Proof.ID, strings.Join(res.Proof.PublicSignals, ","))
	if res.UpstreamDID != "" {
		_, _ = cyan.Print("  Issuer:   ")
		fmt.Println(res.UpstreamDID)
	}
	if len(res.QRCode) > 0 {
		_, _ = cyan.Print("  QR offer: ")
		fmt.Println(string(res.QRCode))
	}
}
