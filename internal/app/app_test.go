package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkpauth/internal/audit"
	"zkpauth/internal/auth"
	"zkpauth/internal/platform/config"
	"zkpauth/internal/session"
)

const walletAddress = "0x52908400098527886E0F7030069857D2E4169EE7"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Proof.ProverDelay = config.Duration{}
	require.NoError(t, cfg.Validate())
	return &cfg
}

func build(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := Build(context.Background(), cfg, logger, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBuildMemory(t *testing.T) {
	a := build(t, testConfig(t))

	assert.Nil(t, a.Facade)
	assert.Nil(t, a.Wallet)
	assert.NotNil(t, a.AuditLog)
	assert.Empty(t, a.Workers())

	ctx := context.Background()
	res, err := a.Auth.WalletFlow(ctx, auth.WalletInfo{Connected: true, Address: walletAddress, ChainID: 80002})
	require.NoError(t, err)
	require.NotNil(t, res.Session)

	sess, err := a.Sessions.Authenticate(ctx, res.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Identity.DID, sess.SubjectDID)
	assert.Equal(t, session.StateAuthenticated, a.Auth.State(ctx, sess.SubjectDID))

	events, err := a.AuditLog.ListBySubject(ctx, sess.SubjectDID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, audit.ActionSessionCreated, events[len(events)-1].Action)
}

func TestBuildSQLiteSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "zkpauth.db")
	ctx := context.Background()

	first := build(t, cfg)
	_, err := first.Auth.Register(ctx, auth.Registration{Name: "Ada", Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)
	res, err := first.Auth.CredentialFlow(ctx, auth.Credentials{Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := build(t, cfg)
	restored, err := second.Auth.Restore(ctx, res.Session.SubjectDID)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, restored.ID)
	assert.WithinDuration(t, res.Session.ExpiresAt, restored.ExpiresAt, time.Second)
}

func TestBuildWithIssuerMountsFacade(t *testing.T) {
	cfg := testConfig(t)
	cfg.Issuer.Enabled = true
	a := build(t, cfg)

	assert.NotNil(t, a.Gateway)
	assert.NotNil(t, a.Facade)
}

type countingPurger struct{ calls int }

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls++
	return 0, nil
}

func TestPurgeWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := purgeWorker(&countingPurger{}, slog.New(slog.NewTextHandler(io.Discard, nil)))(ctx)
	assert.NoError(t, err)
}
