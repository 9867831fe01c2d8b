package solver

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Conditions are the termination controls of a run: the loop ends when every
// rank's update error drops below Tolerance, or after MaxIterations-1 sweeps,
// whichever comes first. Tolerance 0 disables the error test and runs the
// full sweep budget.
type Conditions struct {
	Tolerance     float64 `toml:"tolerance"`
	MaxIterations int     `toml:"max_iterations"`
}

// DefaultConditions returns the stock termination controls
func DefaultConditions() Conditions {
	return Conditions{Tolerance: 1e-6, MaxIterations: 1000}
}

// Validate checks the controls describe a runnable loop
func (c Conditions) Validate() error {
	if c.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance %g", ErrConditions, c.Tolerance)
	}
	if c.MaxIterations < 2 {
		return fmt.Errorf("%w: max_iterations %d, need at least 2", ErrConditions, c.MaxIterations)
	}
	return nil
}

// LoadConditions reads termination controls from a TOML file. Fields absent
// from the file keep their default values.
func LoadConditions(path string) (Conditions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Conditions{}, fmt.Errorf("solver: read conditions: %w", err)
	}
	c := DefaultConditions()
	if err := toml.Unmarshal(raw, &c); err != nil {
		return Conditions{}, fmt.Errorf("solver: parse conditions %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Conditions{}, err
	}
	return c, nil
}
