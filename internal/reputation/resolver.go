package reputation

import (
	"context"
	"fmt"
	"log"

	"github.com/sentinelsoc/iocwatch/internal/ioc"
)

// Resolver applies the source selection policy: IP indicators go to the
// abuse-confidence source first and fall back to the multi-engine source on
// any failure; every other type goes to the multi-engine source directly.
// The resolver performs no retries of its own; a failed lookup surfaces as
// a ScanFailure and the item stays due for the next sweep.
type Resolver struct {
	primary   Source // abuse-confidence source, IP only; may be nil
	secondary Source // multi-engine source, all types
	logger    *log.Logger
}

// NewResolver builds a resolver over the configured sources. primary may be
// nil when no abuse-confidence source is configured at all.
func NewResolver(primary, secondary Source, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(log.Writer(), "[reputation] ", log.LstdFlags)
	}
	return &Resolver{primary: primary, secondary: secondary, logger: logger}
}

// Check resolves one indicator to a normalized result.
func (r *Resolver) Check(ctx context.Context, t ioc.Type, value string) (*Result, error) {
	if !t.IsValid() {
		return nil, &ScanFailure{Type: t, Value: value, Err: fmt.Errorf("unknown indicator type")}
	}

	if t == ioc.TypeIP && r.primary != nil && r.primary.Supports(t) {
		result, err := r.primary.Check(ctx, t, value)
		if err == nil {
			return result, nil
		}
		r.logger.Printf("Primary source %s failed for %s %s, falling back: %v",
			r.primary.Name(), t, value, err)

		result, ferr := r.secondary.Check(ctx, t, value)
		if ferr == nil {
			return result, nil
		}
		return nil, &ScanFailure{
			Type:  t,
			Value: value,
			Err:   fmt.Errorf("primary: %v; fallback: %w", err, ferr),
		}
	}

	result, err := r.secondary.Check(ctx, t, value)
	if err != nil {
		return nil, &ScanFailure{Type: t, Value: value, Err: err}
	}
	return result, nil
}

// Close releases both sources.
func (r *Resolver) Close() {
	if r.primary != nil {
		r.primary.Close()
	}
	if r.secondary != nil {
		r.secondary.Close()
	}
}
