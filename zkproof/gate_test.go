package zkproof

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/types"
)

// countingVerifier records whether the external capability was invoked.
type countingVerifier struct {
	calls  int
	result bool
}

func (c *countingVerifier) Name() string { return "counting" }

func (c *countingVerifier) Verify(_ []byte, _ []*uint256.Int) (bool, error) {
	c.calls++
	return c.result, nil
}

var gateOwner = types.HexToAddress("0x0a")

func TestNewGateZeroOwner(t *testing.T) {
	if _, err := NewGate(types.Address{}, PermissiveVerifier{}); !errors.Is(err, ErrGateNoOwner) {
		t.Fatalf("zero owner: got %v", err)
	}
}

func TestGateForwardsVerbatim(t *testing.T) {
	v := &countingVerifier{result: true}
	g, err := NewGate(gateOwner, v)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := g.Verify([]byte{1}, nil)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}

	v.result = false
	ok, err = g.Verify([]byte{1}, nil)
	if err != nil || ok {
		t.Fatalf("Verify = %v, %v, want false verbatim", ok, err)
	}
	if v.calls != 2 {
		t.Errorf("backend calls = %d, want 2", v.calls)
	}
}

func TestGateDisabledShortCircuits(t *testing.T) {
	v := &countingVerifier{result: true}
	g, _ := NewGate(gateOwner, v)

	if err := g.SetEnabled(gateOwner, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if g.Enabled() {
		t.Fatal("gate still enabled")
	}

	ok, err := g.Verify([]byte{1}, nil)
	if ok || !errors.Is(err, ErrGateDisabled) {
		t.Fatalf("disabled gate: %v, %v", ok, err)
	}
	if v.calls != 0 {
		t.Fatal("disabled gate invoked the backend")
	}
}

func TestGateOwnerChecks(t *testing.T) {
	g, _ := NewGate(gateOwner, PermissiveVerifier{})
	stranger := types.HexToAddress("0x0b")

	if err := g.SetEnabled(stranger, false); !errors.Is(err, ErrGateNotOwner) {
		t.Errorf("SetEnabled by stranger: %v", err)
	}
	if err := g.SetBackend(stranger, RejectingVerifier{}); !errors.Is(err, ErrGateNotOwner) {
		t.Errorf("SetBackend by stranger: %v", err)
	}
	if g.BackendName() != "permissive" {
		t.Errorf("backend swapped by stranger: %s", g.BackendName())
	}

	if err := g.SetBackend(gateOwner, RejectingVerifier{}); err != nil {
		t.Fatalf("SetBackend by owner: %v", err)
	}
	if g.BackendName() != "rejecting" {
		t.Errorf("BackendName = %s", g.BackendName())
	}
}

func TestGateNoBackend(t *testing.T) {
	g, _ := NewGate(gateOwner, nil)
	if _, err := g.Verify([]byte{1}, nil); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("nil backend: %v", err)
	}
}

func TestGateEmptyProof(t *testing.T) {
	v := &countingVerifier{result: true}
	g, _ := NewGate(gateOwner, v)
	if _, err := g.Verify(nil, nil); !errors.Is(err, ErrEmptyProof) {
		t.Fatalf("empty proof: %v", err)
	}
	if v.calls != 0 {
		t.Fatal("empty proof reached the backend")
	}
}
