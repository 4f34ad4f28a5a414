package budget

import (
	"errors"
	"fmt"
)

// ErrConfiguration matches every ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("budget configuration error")

// ConfigurationError reports a budget request that cannot be satisfied or
// is malformed. It is returned before any allocation is made.
type ConfigurationError struct {
	Share  string // offending share, empty for request-wide problems
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Share == "" {
		return fmt.Sprintf("budget: %s", e.Reason)
	}
	return fmt.Sprintf("budget: share %q: %s", e.Share, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func configErrorf(share, format string, args ...any) error {
	return &ConfigurationError{Share: share, Reason: fmt.Sprintf(format, args...)}
}
