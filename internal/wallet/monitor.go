package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultPollInterval is how often the monitor refreshes chain and balance.
const DefaultPollInterval = 30 * time.Second

// ChainReader is the subset of an Ethereum RPC client the monitor uses.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// Snapshot is the last observed wallet state.
type Snapshot struct {
	Address   string    `json:"address"`
	ChainID   int64     `json:"chainId"`
	Network   Network   `json:"network"`
	Wei       string    `json:"wei"`
	Balance   string    `json:"balance"`
	UpdatedAt time.Time `json:"updatedAt"`
	Error     string    `json:"error,omitempty"`
}

// Connected reports whether the last refresh reached the chain.
func (s Snapshot) Connected() bool {
	return !s.UpdatedAt.IsZero() && s.Error == ""
}

// Monitor polls the chain for the wallet's network and balance. It never affects
// authentication state; callers read Latest when they need the wallet info.
type Monitor struct {
	client   ChainReader
	address  common.Address
	interval time.Duration
	clock    func() time.Time
	logger   *slog.Logger

	mu     sync.RWMutex
	latest Snapshot
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewMonitor(client ChainReader, address string, opts ...Option) (*Monitor, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.New("wallet address is malformed")
	}
	m := &Monitor{
		client:   client,
		address:  common.HexToAddress(address),
		interval: DefaultPollInterval,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.latest = Snapshot{Address: m.address.Hex()}
	return m, nil
}

// Run refreshes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if _, err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
			m.logger.WarnContext(ctx, "wallet refresh failed", "address", m.address.Hex(), "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh reads chain id and balance once and stores the result.
func (m *Monitor) Refresh(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Address: m.address.Hex(), UpdatedAt: m.clock()}

	chainID, err := m.client.ChainID(ctx)
	if err != nil {
		return m.store(snap, fmt.Errorf("read chain id: %w", err))
	}
	snap.ChainID = chainID.Int64()
	snap.Network, _ = Lookup(snap.ChainID)

	wei, err := m.client.BalanceAt(ctx, m.address, nil)
	if err != nil {
		return m.store(snap, fmt.Errorf("read balance: %w", err))
	}
	snap.Wei = wei.String()
	snap.Balance = FormatBalance(wei, snap.Network.Currency)
	return m.store(snap, nil)
}

func (m *Monitor) store(snap Snapshot, err error) (Snapshot, error) {
	if err != nil {
		snap.Error = err.Error()
	}
	m.mu.Lock()
	m.latest = snap
	m.mu.Unlock()
	return snap, err
}

// Latest returns the last snapshot.
func (m *Monitor) Latest() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// FormatBalance renders wei in whole units with four decimals, e.g. "1.5000 MATIC".
func FormatBalance(wei *big.Int, c Currency) string {
	if wei == nil {
		wei = new(big.Int)
	}
	unit := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.Decimals)), nil))
	value := new(big.Float).Quo(new(big.Float).SetInt(wei), unit)
	return value.Text('f', 4) + " " + c.Symbol
}
