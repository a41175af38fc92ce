package diag

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// PanicCause tells which source construct a runtime-failure check encodes.
type PanicCause int

const (
	// CauseUnknown is used when the origin of the failure is not known.
	CauseUnknown PanicCause = iota
	// CausePanic is an explicit failure invocation such as panic!().
	CausePanic
	// CauseAssert is an assertion such as assert!().
	CauseAssert
	// CauseUnreachable is an unreachable-code marker.
	CauseUnreachable
	// CauseUnimplemented is a not-yet-implemented marker.
	CauseUnimplemented
)

var panicCauseNames = []string{"unknown", "panic", "assert", "unreachable", "unimplemented"}

func (c PanicCause) String() string {
	if c < 0 || int(c) >= len(panicCauseNames) {
		return fmt.Sprintf("PanicCause(%d)", int(c))
	}
	return panicCauseNames[c]
}

func (c PanicCause) MarshalYAML() (any, error) {
	return c.String(), nil
}

func (c *PanicCause) UnmarshalYAML(value *yaml.Node) error {
	idx, err := decodeName(value, panicCauseNames, "panic cause")
	if err != nil {
		return err
	}
	*c = PanicCause(idx)
	return nil
}

// ContextKind is the structural reason a proof obligation exists.
type ContextKind int

const (
	// KindPanic is an `assert false` encoding a runtime failure.
	KindPanic ContextKind = iota
	// KindExhalePrecondition exhales the precondition of a called procedure.
	KindExhalePrecondition
	// KindExhalePostcondition exhales the postcondition at procedure exit.
	KindExhalePostcondition
	// KindExhaleLoopInvariant exhales the permissions of a loop invariant.
	KindExhaleLoopInvariant
	// KindAssertLoopInvariant asserts the functional part of a loop invariant.
	KindAssertLoopInvariant
	// KindAssertTerminator encodes a failing assert terminator; carries its message.
	KindAssertTerminator
	// KindAbortTerminator encodes an abort terminator.
	KindAbortTerminator
	// KindUnreachableTerminator encodes an unreachable terminator.
	KindUnreachableTerminator
	// KindUnexpected marks obligations that a sound encoding never fails.
	KindUnexpected
)

var contextKindNames = []string{
	"panic",
	"exhale-precondition",
	"exhale-postcondition",
	"exhale-loop-invariant",
	"assert-loop-invariant",
	"assert-terminator",
	"abort-terminator",
	"unreachable-terminator",
	"unexpected",
}

func (k ContextKind) String() string {
	if k < 0 || int(k) >= len(contextKindNames) {
		return fmt.Sprintf("ContextKind(%d)", int(k))
	}
	return contextKindNames[k]
}

func (k ContextKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

func (k *ContextKind) UnmarshalYAML(value *yaml.Node) error {
	idx, err := decodeName(value, contextKindNames, "error context")
	if err != nil {
		return err
	}
	*k = ContextKind(idx)
	return nil
}

// ErrorContext describes why a proof obligation was generated. Cause is
// meaningful only for KindPanic and Message only for KindAssertTerminator.
type ErrorContext struct {
	Kind    ContextKind `yaml:"kind"`
	Cause   PanicCause  `yaml:"cause,omitempty"`
	Message string      `yaml:"message,omitempty"`
}

// Ctx returns a context of a kind that carries no payload.
func Ctx(kind ContextKind) ErrorContext {
	return ErrorContext{Kind: kind}
}

// PanicCtx returns the context of a runtime-failure check.
func PanicCtx(cause PanicCause) ErrorContext {
	return ErrorContext{Kind: KindPanic, Cause: cause}
}

// AssertTerminatorCtx returns the context of a failing assert terminator.
func AssertTerminatorCtx(message string) ErrorContext {
	return ErrorContext{Kind: KindAssertTerminator, Message: message}
}

func (c ErrorContext) String() string {
	switch c.Kind {
	case KindPanic:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Cause)
	case KindAssertTerminator:
		return fmt.Sprintf("%s(%q)", c.Kind, c.Message)
	default:
		return c.Kind.String()
	}
}

func decodeName(value *yaml.Node, names []string, what string) (int, error) {
	var s string
	if err := value.Decode(&s); err != nil {
		return 0, err
	}
	for i, name := range names {
		if name == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", what, s)
}
