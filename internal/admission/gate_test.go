package admission

import (
	"testing"

	"github.com/motiontrap/camnode/internal/logger"
)

// fixedClock returns a constant corrected time
type fixedClock uint64

func (c fixedClock) Now() uint64 { return uint64(c) }

func newTestGate(now uint64, windowMS uint64) *Gate {
	return NewGate(fixedClock(now), windowMS, logger.NewNopLogger())
}

func TestGate_AcceptsWithinWindow(t *testing.T) {
	gate := newTestGate(100000, 5000)

	cases := []uint64{100000, 95000, 105000, 104999, 95001}
	for _, claimed := range cases {
		d := gate.Admit(claimed)
		if !d.Accepted {
			t.Errorf("Expected claimed=%d to be accepted (now=100000, window=5000): %s", claimed, d.Reason)
		}
	}
}

func TestGate_BoundIsInclusive(t *testing.T) {
	gate := newTestGate(100000, 5000)

	if d := gate.Admit(105000); !d.Accepted {
		t.Errorf("Expected now+window to be accepted: %s", d.Reason)
	}
	if d := gate.Admit(95000); !d.Accepted {
		t.Errorf("Expected now-window to be accepted: %s", d.Reason)
	}
	if d := gate.Admit(105001); d.Accepted {
		t.Error("Expected now+window+1 to be rejected")
	}
	if d := gate.Admit(94999); d.Accepted {
		t.Error("Expected now-window-1 to be rejected")
	}
}

func TestGate_RejectionCarriesContext(t *testing.T) {
	gate := newTestGate(100000, 5000)

	d := gate.Admit(200000)
	if d.Accepted {
		t.Fatal("Expected rejection")
	}
	if d.Reason == "" {
		t.Error("Expected rejection reason to be set")
	}
	if d.NowMS != 100000 || d.ClaimedMS != 200000 {
		t.Errorf("Expected decision to carry now/claimed, got now=%d claimed=%d", d.NowMS, d.ClaimedMS)
	}
}

func TestGate_DefaultWindow(t *testing.T) {
	gate := NewGate(fixedClock(0), 0, logger.NewNopLogger())
	if gate.WindowMS() != DefaultWindowMS {
		t.Errorf("Expected default window %d, got %d", DefaultWindowMS, gate.WindowMS())
	}
}

func TestGate_ClaimedBeforeEpochOfNode(t *testing.T) {
	// Corrected clock near zero right after boot; a large claimed time must
	// not wrap the unsigned subtraction.
	gate := newTestGate(100, 5000)
	if d := gate.Admit(1_700_000_000_000); d.Accepted {
		t.Error("Expected far-future claimed time to be rejected")
	}
	if d := gate.Admit(0); !d.Accepted {
		t.Error("Expected claimed=0 within window of now=100 to be accepted")
	}
}
