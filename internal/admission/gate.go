// Package admission validates remote capture triggers against the node's
// offset-corrected clock. A claimed timestamp outside the window is treated
// as stale or forged and the request is refused before it reaches the
// camera. This is a freshness check only: there is no authentication of the
// sender, which is a known limitation of the protocol.
package admission

import (
	"github.com/motiontrap/camnode/internal/logger"
)

// DefaultWindowMS is the default admission window in milliseconds
const DefaultWindowMS = 5000

// Clock provides the corrected current time in milliseconds
type Clock interface {
	Now() uint64
}

// Decision is the outcome of admitting a claimed capture timestamp
type Decision struct {
	Accepted  bool
	Reason    string
	NowMS     uint64
	ClaimedMS uint64
}

// Gate admits or rejects capture requests by their claimed timestamp
type Gate struct {
	clock    Clock
	windowMS uint64
	logger   *logger.Logger
}

// NewGate creates an admission gate. A zero window falls back to the default.
func NewGate(clk Clock, windowMS uint64, log *logger.Logger) *Gate {
	if windowMS == 0 {
		windowMS = DefaultWindowMS
	}
	return &Gate{
		clock:    clk,
		windowMS: windowMS,
		logger:   log,
	}
}

// Admit accepts the claimed timestamp iff it is within the window of the
// corrected current time. The bound is inclusive on both sides.
func (g *Gate) Admit(claimedMS uint64) Decision {
	now := g.clock.Now()

	var diff uint64
	if claimedMS >= now {
		diff = claimedMS - now
	} else {
		diff = now - claimedMS
	}

	if diff > g.windowMS {
		d := Decision{
			Accepted:  false,
			Reason:    "claimed time outside admission window",
			NowMS:     now,
			ClaimedMS: claimedMS,
		}
		g.logger.Debug("Capture request rejected",
			"claimed_ms", claimedMS,
			"now_ms", now,
			"window_ms", g.windowMS,
		)
		return d
	}

	return Decision{Accepted: true, NowMS: now, ClaimedMS: claimedMS}
}

// WindowMS returns the configured admission window
func (g *Gate) WindowMS() uint64 {
	return g.windowMS
}
