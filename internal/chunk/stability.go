package chunk

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientData reports that the source has not accumulated enough
// new, stable bytes yet. Expected during live recording; callers retry on
// the next poll tick.
var ErrInsufficientData = errors.New("insufficient data")

// StabilityConfig controls the two-sample stability check.
type StabilityConfig struct {
	// Delay between the two size samples.
	Delay time.Duration
	// MinBytes a source must hold before it is ever considered ready.
	MinBytes int64
}

// DefaultStabilityConfig returns the stock stability settings.
func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{
		Delay:    500 * time.Millisecond,
		MinBytes: 1000,
	}
}

// StabilityChecker decides whether a source is safe to read. A file that is
// mid-write changes size between two samples taken a short delay apart;
// only a source whose size held still and exceeds the minimum is ready.
type StabilityChecker struct {
	config StabilityConfig
}

// NewStabilityChecker creates a checker with the given configuration.
func NewStabilityChecker(config StabilityConfig) *StabilityChecker {
	if config.Delay <= 0 {
		config.Delay = DefaultStabilityConfig().Delay
	}
	return &StabilityChecker{config: config}
}

// Check samples the source size twice, Delay apart, and returns the stable
// size. An unstable or too-small source yields ErrInsufficientData. The
// delay honors context cancellation.
func (s *StabilityChecker) Check(ctx context.Context, src Source) (int64, error) {
	first, err := src.Size()
	if err != nil {
		return 0, fmt.Errorf("sampling source size: %w", err)
	}

	timer := time.NewTimer(s.config.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
	}

	second, err := src.Size()
	if err != nil {
		return 0, fmt.Errorf("sampling source size: %w", err)
	}

	if second != first {
		return 0, fmt.Errorf("%w: source still growing (%d -> %d bytes)", ErrInsufficientData, first, second)
	}
	if second < s.config.MinBytes {
		return 0, fmt.Errorf("%w: source holds %d bytes, need at least %d", ErrInsufficientData, second, s.config.MinBytes)
	}

	return second, nil
}
