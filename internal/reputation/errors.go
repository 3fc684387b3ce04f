package reputation

import (
	"errors"
	"fmt"

	"github.com/sentinelsoc/iocwatch/internal/ioc"
)

// ErrMissingCredential marks a scan attempt that failed because the source's
// API key is not configured. A configuration problem, not a network one: it
// fails the single attempt and is reported per item, never fatal to a sweep.
var ErrMissingCredential = errors.New("missing API credential")

// TransientError wraps timeouts, connection failures, and 429/5xx responses.
// For the IP path it triggers fallback to the secondary source; at the sweep
// level it is counted and the item stays due for the next cycle.
type TransientError struct {
	Source string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient error: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ScanFailure is returned when every applicable source failed for an
// indicator. The item is skipped this cycle and remains due next cycle.
type ScanFailure struct {
	Type  ioc.Type
	Value string
	Err   error
}

func (e *ScanFailure) Error() string {
	return fmt.Sprintf("scan failed for %s %s: %v", e.Type, e.Value, e.Err)
}

func (e *ScanFailure) Unwrap() error { return e.Err }
