/*
Package errdefs holds the error taxonomy shared by the mapping, index and query packages.

Every concrete error type carries the details needed to fix the offending
configuration or request (which dimension, which pattern, which entry) and
matches one of the sentinels below through errors.Is:

	if errors.Is(err, errdefs.ErrUnknownContext) { ... }

	var ue *errdefs.UnknownContextError
	if errors.As(err, &ue) { log.Warn("bad context", "name", ue.Name) }
*/
package errdefs

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is checks.
var (
	// ErrConfig is returned for invalid mapping configuration. Setup time only.
	ErrConfig = errors.New("invalid context mapping configuration")

	// ErrUnknownContext is returned when a query names a context that is not registered.
	ErrUnknownContext = errors.New("unknown context")

	// ErrPattern is returned for regex patterns that cannot be compiled or are unsupported.
	ErrPattern = errors.New("invalid pattern")

	// ErrUnsupportedMode is returned when the index cannot serve the requested mode.
	ErrUnsupportedMode = errors.New("unsupported suggestion mode")

	// ErrBuild is returned when an index build fails. No index is returned with it.
	ErrBuild = errors.New("index build failed")

	// ErrPartitionTimeout marks a partition that did not answer in time.
	ErrPartitionTimeout = errors.New("partition timed out")

	// ErrInvalidRequest is returned for malformed requests (size, empty input).
	ErrInvalidRequest = errors.New("invalid suggestion request")
)

// ConfigError reports a bad mapping definition or a raw value a mapping cannot encode.
type ConfigError struct {
	Mapping string
	Reason  string
	Cause   error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("context mapping %q: %s", e.Mapping, e.Reason)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error        { return e.Cause }
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// NewConfigError creates a ConfigError for the named mapping.
func NewConfigError(mapping, reason string, cause error) *ConfigError {
	return &ConfigError{Mapping: mapping, Reason: reason, Cause: cause}
}

// UnknownContextError names the context dimension that is not registered on the set.
type UnknownContextError struct {
	Name  string
	Known []string
}

func (e *UnknownContextError) Error() string {
	return fmt.Sprintf("unknown context %q (registered: %v)", e.Name, e.Known)
}

func (e *UnknownContextError) Is(target error) bool { return target == ErrUnknownContext }

// PatternError is returned before traversal for a regex that cannot be used.
type PatternError struct {
	Pattern string
	Reason  string
	Cause   error
}

func (e *PatternError) Error() string {
	msg := fmt.Sprintf("pattern %q: %s", e.Pattern, e.Reason)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *PatternError) Unwrap() error        { return e.Cause }
func (e *PatternError) Is(target error) bool { return target == ErrPattern }

// UnsupportedModeError reports a mode/index capability mismatch.
type UnsupportedModeError struct {
	Mode   string
	Reason string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("mode %s not supported: %s", e.Mode, e.Reason)
}

func (e *UnsupportedModeError) Is(target error) bool { return target == ErrUnsupportedMode }

// BuildError identifies the entry that aborted an index build.
type BuildError struct {
	Entry   int
	Surface string
	Cause   error
}

func (e *BuildError) Error() string {
	if e.Entry < 0 {
		return fmt.Sprintf("build: %v", e.Cause)
	}
	return fmt.Sprintf("build: entry #%d (%q): %v", e.Entry, e.Surface, e.Cause)
}

func (e *BuildError) Unwrap() error        { return e.Cause }
func (e *BuildError) Is(target error) bool { return target == ErrBuild }

// PartitionTimeoutError is recoverable: the partition is left out of the merge.
type PartitionTimeoutError struct {
	Partition int
	Timeout   time.Duration
}

func (e *PartitionTimeoutError) Error() string {
	return fmt.Sprintf("partition %d did not answer within %v", e.Partition, e.Timeout)
}

func (e *PartitionTimeoutError) Is(target error) bool { return target == ErrPartitionTimeout }

// InvalidRequest wraps ErrInvalidRequest with a reason.
func InvalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
