// Package simulator provides in-process implementations of the engine's
// external collaborators. A single-node deployment runs against these;
// an integrated deployment swaps in real vault, emission and mint
// backends behind the same interfaces.
package simulator

import (
	"math/big"
	"sync"

	"github.com/pkg/errors"
)

var ErrInsufficientEscrow = errors.New("insufficient escrowed balance")

// Vault escrows reserve tokens per participant.
type Vault struct {
	mu       sync.Mutex
	escrowed map[string]*big.Int
}

func NewVault() *Vault {
	return &Vault{
		escrowed: make(map[string]*big.Int),
	}
}

func (v *Vault) TransferIn(from string, amount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	held, ok := v.escrowed[from]
	if !ok {
		held = big.NewInt(0)
		v.escrowed[from] = held
	}
	held.Add(held, amount)
	return new(big.Int).Set(amount), nil
}

func (v *Vault) TransferOut(to string, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	held, ok := v.escrowed[to]
	if !ok || held.Cmp(amount) < 0 {
		return ErrInsufficientEscrow
	}
	held.Sub(held, amount)
	return nil
}

// Escrowed returns the amount currently held for a participant.
func (v *Vault) Escrowed(participant string) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	held, ok := v.escrowed[participant]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(held)
}

// EmissionSource hands out a fixed draw per epoch, optionally bounded by
// a total budget. A nil budget is unlimited.
type EmissionSource struct {
	mu        sync.Mutex
	perEpoch  *big.Int
	remaining *big.Int
}

func NewEmissionSource(perEpoch *big.Int, budget *big.Int) *EmissionSource {
	src := &EmissionSource{
		perEpoch: new(big.Int).Set(perEpoch),
	}
	if budget != nil {
		src.remaining = new(big.Int).Set(budget)
	}
	return src
}

// ClaimEmission draws up to the per-epoch amount. An exhausted budget is a
// zero draw, not an error; the epoch ledger treats zero as "nothing due".
func (s *EmissionSource) ClaimEmission() (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining == nil {
		return new(big.Int).Set(s.perEpoch), nil
	}
	if s.remaining.Sign() == 0 {
		return big.NewInt(0), nil
	}
	draw := new(big.Int).Set(s.perEpoch)
	if s.remaining.Cmp(draw) < 0 {
		draw.Set(s.remaining)
	}
	s.remaining.Sub(s.remaining, draw)
	return draw, nil
}

// AdapterRegistry tracks which reserve adapters accept new locks.
type AdapterRegistry struct {
	mu     sync.Mutex
	active map[string]bool
}

func NewAdapterRegistry(adapters ...string) *AdapterRegistry {
	r := &AdapterRegistry{
		active: make(map[string]bool),
	}
	for _, a := range adapters {
		r.active[a] = true
	}
	return r
}

func (r *AdapterRegistry) SetActive(adapter string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[adapter] = active
}

func (r *AdapterRegistry) IsAdapterActive(adapter string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[adapter]
}

// Minter records minted emission tokens per recipient.
type Minter struct {
	mu     sync.Mutex
	minted map[string]*big.Int
	total  *big.Int
}

func NewMinter() *Minter {
	return &Minter{
		minted: make(map[string]*big.Int),
		total:  big.NewInt(0),
	}
}

func (m *Minter) Mint(to string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.minted[to]
	if !ok {
		bal = big.NewInt(0)
		m.minted[to] = bal
	}
	bal.Add(bal, amount)
	m.total.Add(m.total, amount)
	return nil
}

func (m *Minter) Minted(to string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.minted[to]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

func (m *Minter) TotalMinted() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.total)
}
