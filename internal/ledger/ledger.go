// Package ledger records the ordered examiner/candidate/system turns of one
// assessment and pairs examiner questions with the answers that follow them.
package ledger

import (
	"sync"
	"time"

	"examroom/pkg/types"
)

// Ledger is an append-only turn log. The zero value is ready to use.
type Ledger struct {
	mu    sync.RWMutex
	turns []types.Turn
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append adds a turn. It is the only mutator.
func (l *Ledger) Append(turn types.Turn) {
	l.mu.Lock()
	l.turns = append(l.turns, turn)
	l.mu.Unlock()
}

// Record builds a turn stamped with at and appends it.
func (l *Ledger) Record(speaker types.Speaker, content string, at time.Time) types.Turn {
	turn := types.Turn{Speaker: speaker, Content: content, Timestamp: at}
	l.Append(turn)
	return turn
}

// Len returns the number of turns.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Snapshot returns a copy of all turns in order.
func (l *Ledger) Snapshot() []types.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Recent returns a copy of the last n turns, or all of them if fewer exist.
func (l *Ledger) Recent(n int) []types.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return []types.Turn{}
	}
	start := max(len(l.turns)-n, 0)
	out := make([]types.Turn, len(l.turns)-start)
	copy(out, l.turns[start:])
	return out
}

// CountBy returns how many turns speaker has contributed.
func (l *Ledger) CountBy(speaker types.Speaker) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, t := range l.turns {
		if t.Speaker == speaker {
			n++
		}
	}
	return n
}

// Pairs returns every (examiner, candidate) pair where the candidate turn
// immediately follows the examiner turn. Any other adjacency is skipped.
func (l *Ledger) Pairs() []types.Pair {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return PairTurns(l.turns)
}

// PairTurns applies the adjacency rule of Pairs to an arbitrary slice.
func PairTurns(turns []types.Turn) []types.Pair {
	pairs := []types.Pair{}
	for i := 0; i+1 < len(turns); i++ {
		if turns[i].Speaker == types.SpeakerExaminer && turns[i+1].Speaker == types.SpeakerCandidate {
			pairs = append(pairs, types.Pair{Question: turns[i], Answer: turns[i+1]})
			i++
		}
	}
	return pairs
}
