package params

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidParameters is wrapped by every resolution failure.
var ErrInvalidParameters = errors.New("invalid parameters")

// ValidationError describes which field failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid parameters: %s", e.Reason)
	}
	return fmt.Sprintf("invalid parameters: %s %s", e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrInvalidParameters) hold.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidParameters
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Tool selects the external binary an InvocationSpec runs.
type Tool int

const (
	ToolFFmpeg Tool = iota
	ToolDownloader
)

func (t Tool) String() string {
	switch t {
	case ToolFFmpeg:
		return "ffmpeg"
	case ToolDownloader:
		return "downloader"
	default:
		return "unknown"
	}
}

// Options holds the flat option name to value mapping submitted with a job.
type Options map[string]string

// InvocationSpec is the validated description of one external process run.
// It is immutable after construction.
type InvocationSpec struct {
	Tool      Tool
	Operation string
	// InputPath is the uploaded file for conversions and the link for downloads.
	InputPath string
	// OutputPath is the full output file for ffmpeg and an output template
	// for the downloader, whose extension the tool picks.
	OutputPath string
	// Extension is known in advance for ffmpeg and empty for the downloader.
	Extension string
	KeepVideo bool

	args     []string
	nameArgs []string
}

// Args returns a copy of the tool arguments.
func (s *InvocationSpec) Args() []string {
	return append([]string(nil), s.args...)
}

// NameArgs returns the arguments that make the downloader print the final
// file name without downloading anything. It is nil for ffmpeg.
func (s *InvocationSpec) NameArgs() []string {
	if s.nameArgs == nil {
		return nil
	}
	return append([]string(nil), s.nameArgs...)
}

func (s *InvocationSpec) String() string {
	return fmt.Sprintf("%s %s -> %s", s.Tool, s.Operation, s.OutputPath)
}

func (o Options) get(field string) (string, bool) {
	v, ok := o[field]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (o Options) intIn(field string, lo, hi int) (int, error) {
	raw, ok := o.get(field)
	if !ok {
		return 0, invalid(field, "is required")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(field, "must be an integer, got %q", raw)
	}
	if n < lo || n > hi {
		return 0, invalid(field, "must be between %d and %d, got %d", lo, hi, n)
	}
	return n, nil
}

func (o Options) numberIn(field string, lo, hi float64) (float64, error) {
	raw, ok := o.get(field)
	if !ok {
		return 0, invalid(field, "is required")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, invalid(field, "must be a number, got %q", raw)
	}
	if f < lo || f > hi {
		return 0, invalid(field, "must be between %g and %g, got %g", lo, hi, f)
	}
	return f, nil
}

func (o Options) oneOf(field string, allowed ...string) (string, error) {
	raw, ok := o.get(field)
	if !ok {
		return "", invalid(field, "is required")
	}
	v := strings.ToLower(raw)
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", invalid(field, "must be one of %s, got %q", strings.Join(allowed, ", "), raw)
}

// flag parses an optional boolean. Missing means false.
func (o Options) flag(field string) (bool, error) {
	raw, ok := o.get(field)
	if !ok {
		return false, nil
	}
	switch strings.ToLower(raw) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalid(field, "must be a boolean, got %q", raw)
	}
	return b, nil
}

func kbps(n int) string {
	return strconv.Itoa(n) + "k"
}
