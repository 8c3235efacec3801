package draw

import (
	"fmt"
	"math/rand"
	"time"

	"raffle/internal/models"
)

// RandomSource yields uniformly distributed integers in [0, n).
// *rand.Rand satisfies it.
type RandomSource interface {
	Intn(n int) int
}

// NewSource returns a generator seeded from the clock, or from seed when one is given.
// Seeded sources replay the same draw sequence for the same pool.
func NewSource(seed *int64) RandomSource {
	if seed != nil {
		return rand.New(rand.NewSource(*seed))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Select picks one participant from eligible, each with equal probability.
// It never mutates eligible.
func Select(eligible []models.Participant, src RandomSource) (models.Participant, error) {
	if len(eligible) == 0 {
		return models.Participant{}, fmt.Errorf("%w: nothing to select from", models.ErrEmptyPool)
	}
	if src == nil {
		return models.Participant{}, fmt.Errorf("no random source")
	}

	idx := src.Intn(len(eligible))
	if idx < 0 || idx >= len(eligible) {
		return models.Participant{}, fmt.Errorf("random source returned %d for a pool of %d", idx, len(eligible))
	}
	return eligible[idx], nil
}
