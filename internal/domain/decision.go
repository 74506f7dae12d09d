package domain

import (
	"time"

	"github.com/quantele/crossarb/internal/book"
)

// Outcome classifies the result of one arbitrage cycle.
type Outcome string

const (
	// OutcomeStaleLocal means the local book failed the freshness gate.
	OutcomeStaleLocal Outcome = "stale_local"
	// OutcomeStaleCounterpart means the counterpart book failed the gate.
	OutcomeStaleCounterpart Outcome = "stale_counterpart"
	// OutcomeNone means both strategies were offered the books and neither
	// executed.
	OutcomeNone Outcome = "none"
	// OutcomeTaken means the market-taking strategy executed.
	OutcomeTaken Outcome = "taken"
	// OutcomeMade means the market-making strategy executed.
	OutcomeMade Outcome = "made"
)

// Executed reports whether the cycle ended with a strategy executing.
func (o Outcome) Executed() bool {
	return o == OutcomeTaken || o == OutcomeMade
}

// Decision records the result of one load-gate-strategy cycle.
type Decision struct {
	ID          string
	Venue       string
	Counterpart string
	Pair        Pair
	Side        book.Side
	Outcome     Outcome
	Strategy    string // name of the strategy that executed, empty otherwise
	At          time.Time
}
