package flow

import (
	"lottery_engine/internal/interrupt"
)

// Strategy is one way of reaching a goal on scope. It reports whether the
// goal verifiably holds afterwards.
type Strategy[S any] func(tok interrupt.Token, scope S) bool

// RunCascade tries strategies in order and returns the index of the first one
// that succeeds. The token is checked before each strategy.
func RunCascade[S any](tok interrupt.Token, scope S, strategies []Strategy[S]) (int, error) {
	for i, try := range strategies {
		if err := tok.Err(); err != nil {
			return -1, err
		}
		if try(tok, scope) {
			return i, nil
		}
	}
	if err := tok.Err(); err != nil {
		return -1, err
	}
	return -1, ErrStrategyExhausted
}
