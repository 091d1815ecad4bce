// Package errx provides a single sentinel-wrap convention used across the
// module: every non-trivial error is created from a package-level sentinel
// (errors.New) and wrapped with context via Wrap or With, so callers can
// still match it with errors.Is against the sentinel while the message
// carries the causing detail.
package errx

import "fmt"

// Wrap attaches cause to sentinel, preserving errors.Is(result, sentinel)
// and errors.Is(result, cause).
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// With formats additional context onto sentinel. format should usually start
// with ": " so the rendered message reads "<sentinel>: <detail>".
func With(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w"+format, append([]any{sentinel}, args...)...)
}
