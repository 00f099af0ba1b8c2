// Package sampler draws random subsets of polling stations.
package sampler

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"resultados/internal/models"
)

// ValidateFraction checks that 0 < fraction <= 1
func ValidateFraction(fraction float64) error {
	err := validation.Validate(fraction,
		validation.Required,
		validation.Min(0.0).Exclusive(),
		validation.Max(1.0),
	)
	if err != nil {
		return fmt.Errorf("invalid sample fraction %v: %w", fraction, err)
	}
	return nil
}

// Size is the number of stations drawn from n with the given fraction
func Size(n int, fraction float64) int {
	return int(math.Round(float64(n) * fraction))
}

// NewRand returns a generator seeded with seed, or with the clock when seed is 0
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}

// Sample draws round(len(stations) * fraction) stations uniformly without replacement.
// The input slice is left untouched.
func Sample(stations []models.Scope, fraction float64, rng *rand.Rand) ([]models.Scope, error) {
	if err := ValidateFraction(fraction); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = NewRand(0)
	}

	pool := make([]models.Scope, len(stations))
	copy(pool, stations)

	k := Size(len(pool), fraction)
	// partial Fisher-Yates: pool[:k] ends up holding the sample
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k:k], nil
}
