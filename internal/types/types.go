package types

import (
	"fmt"
	"go/token"
)

// Severity of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// Span is a source range in the verified procedure.
type Span struct {
	Start token.Position `yaml:"start" json:"start"`
	End   token.Position `yaml:"end" json:"end"`
}

// IsValid reports whether the span points into a source file.
func (s Span) IsValid() bool {
	return s.Start.IsValid()
}

func (s Span) String() string {
	if !s.IsValid() {
		return "<unknown>"
	}
	return s.Start.String()
}

// Diagnostic is a verification failure reported back to the user.
type Diagnostic struct {
	// Code is a stable diagnostic code such as "P0003", or the backend's
	// own failure identifier when no code applies.
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Span     Span     `json:"span"`
	// Note carries extra context, for example that the failure points at
	// an encoding gap rather than at the user's code.
	Note string `json:"note,omitempty"`
}

// HasSpan reports whether the diagnostic can be shown with a source snippet.
func (d Diagnostic) HasSpan() bool {
	return d.Span.IsValid()
}

func (d Diagnostic) String() string {
	if !d.HasSpan() {
		return fmt.Sprintf("[%s] %s", d.Code, d.Message)
	}
	return fmt.Sprintf("%s: [%s] %s", d.Span, d.Code, d.Message)
}
