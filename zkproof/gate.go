package zkproof

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/types"
)

// Gate errors.
var (
	ErrGateDisabled = errors.New("zkproof: verification gate is disabled")
	ErrGateNoOwner  = errors.New("zkproof: gate owner must be non-zero")
	ErrGateNotOwner = errors.New("zkproof: caller is not the gate owner")
	ErrNoBackend    = errors.New("zkproof: no verifier backend configured")
	ErrEmptyProof   = errors.New("zkproof: empty proof bytes")
)

// Verifier is the external verification capability. Implementations return
// the proof's validity as a boolean; the gate forwards it verbatim and never
// interprets proof contents itself.
type Verifier interface {
	Name() string
	Verify(proof []byte, publicInputs []*uint256.Int) (bool, error)
}

// Gate wraps a Verifier behind an owner-toggled enable switch so the backend
// can be swapped (permissive test double vs. production verifier) without
// touching settlement logic.
type Gate struct {
	mu      sync.RWMutex
	owner   types.Address
	enabled bool
	backend Verifier
}

// NewGate creates an enabled gate owned by owner.
func NewGate(owner types.Address, backend Verifier) (*Gate, error) {
	if owner.IsZero() {
		return nil, ErrGateNoOwner
	}
	return &Gate{owner: owner, enabled: true, backend: backend}, nil
}

// Enabled reports whether verification is currently switched on.
func (g *Gate) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// SetEnabled toggles the gate. Owner only.
func (g *Gate) SetEnabled(caller types.Address, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller != g.owner {
		return fmt.Errorf("%w: %s", ErrGateNotOwner, caller.Hex())
	}
	g.enabled = enabled
	return nil
}

// SetBackend swaps the verifier implementation. Owner only.
func (g *Gate) SetBackend(caller types.Address, backend Verifier) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller != g.owner {
		return fmt.Errorf("%w: %s", ErrGateNotOwner, caller.Hex())
	}
	g.backend = backend
	return nil
}

// BackendName returns the active backend's name, or "" when unset.
func (g *Gate) BackendName() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.backend == nil {
		return ""
	}
	return g.backend.Name()
}

// Verify forwards to the backend. A disabled gate fails immediately without
// ever invoking the external capability.
func (g *Gate) Verify(proof []byte, publicInputs []*uint256.Int) (bool, error) {
	g.mu.RLock()
	enabled, backend := g.enabled, g.backend
	g.mu.RUnlock()

	if !enabled {
		return false, ErrGateDisabled
	}
	if backend == nil {
		return false, ErrNoBackend
	}
	if len(proof) == 0 {
		return false, ErrEmptyProof
	}
	return backend.Verify(proof, publicInputs)
}

// PermissiveVerifier accepts every proof. It exists for tests and local
// development; production gates carry the gnark backend.
type PermissiveVerifier struct{}

// Name identifies the backend.
func (PermissiveVerifier) Name() string { return "permissive" }

// Verify accepts unconditionally.
func (PermissiveVerifier) Verify(_ []byte, _ []*uint256.Int) (bool, error) {
	return true, nil
}

// RejectingVerifier rejects every proof; used to exercise failure paths.
type RejectingVerifier struct{}

// Name identifies the backend.
func (RejectingVerifier) Name() string { return "rejecting" }

// Verify rejects unconditionally.
func (RejectingVerifier) Verify(_ []byte, _ []*uint256.Int) (bool, error) {
	return false, nil
}
