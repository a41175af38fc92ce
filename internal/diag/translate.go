package diag

import (
	"fmt"
	"strings"

	"github.com/gnoswap-labs/tverify/internal/backend"
	"github.com/gnoswap-labs/tverify/internal/types"
	"go.uber.org/zap"
)

// Backend failure identifiers understood by the table.
const (
	AssertionFalse               = "assert.failed:assertion.false"
	ExhaleAssertionFalse         = "exhale.failed:assertion.false"
	ExhaleInsufficientPermission = "exhale.failed:insufficient.permission"
)

// Diagnostic codes.
const (
	CodeStatementMightPanic   = "P0001"
	CodePanicMightPanic       = "P0002"
	CodeAssertMightNotHold    = "P0003"
	CodeUnreachableReachable  = "P0004"
	CodeAssertTerminator      = "P0005"
	CodeUnimplementedReached  = "P0006"
	CodeMightAbort            = "P0007"
	CodeUnreachableTerminator = "P0008"
	CodePostcondition         = "P0009"
	CodeLoopInvariantExhale   = "P0010"
	CodeLoopInvariantAssert   = "P0011"
	CodePrecondition          = "P0012"
	CodePreconditionPerm      = "P0013"
	CodePostconditionPerm     = "P0014"
	CodeLoopInvariantPerm     = "P0015"
)

const (
	encodingGapNote   = "this failure points at a gap in the verifier, not at your code"
	inconsistencyNote = "the encoding produced an obligation that should never fail; this is a bug in the verifier"
)

// short spellings some backends use for the same failures.
var kindAliases = map[string]string{
	"assertion-false":         AssertionFalse,
	"exhale-assertion-false":  ExhaleAssertionFalse,
	"insufficient-permission": ExhaleInsufficientPermission,
}

func normalizeKind(kind string) string {
	if full, ok := kindAliases[kind]; ok {
		return full
	}
	return kind
}

// Translate turns a backend failure into a diagnostic. It never fails: an
// unknown identifier or an unhandled pair degrades to a generic diagnostic.
func (r *Registry) Translate(f backend.Failure) types.Diagnostic {
	rec, ok := r.Lookup(f.PosID)
	if !ok {
		r.logger.Warn("unregistered verification error",
			zap.String("kind", f.Kind),
			zap.String("pos_id", f.PosID),
			zap.String("message", f.Message),
		)
		return types.Diagnostic{
			Code:     f.Kind,
			Message:  "unregistered verification error: " + f.Message,
			Severity: types.SeverityError,
		}
	}

	kind := normalizeKind(f.Kind)
	if code, msg, ok := exactMatch(kind, rec.Context); ok {
		return newDiagnostic(code, msg, rec.Span)
	}
	if code, msg, ok := contextMatch(kind, rec.Context, f.Message); ok {
		d := newDiagnostic(code, msg, rec.Span)
		if rec.Context.Kind == KindUnexpected {
			d.Note = inconsistencyNote
		}
		return d
	}

	r.logger.Error("unhandled verification error",
		zap.String("kind", f.Kind),
		zap.String("pos_id", f.PosID),
		zap.String("message", f.Message),
		zap.Stringer("context", rec.Context),
	)
	d := newDiagnostic(f.Kind, fmt.Sprintf("unhandled verification error (%s)", f.Message), rec.Span)
	d.Note = encodingGapNote
	return d
}

func newDiagnostic(code, msg string, span types.Span) types.Diagnostic {
	return types.Diagnostic{
		Code:     code,
		Message:  msg,
		Severity: types.SeverityError,
		Span:     span,
	}
}

func exactMatch(kind string, ctx ErrorContext) (code, msg string, ok bool) {
	switch kind {
	case AssertionFalse:
		switch ctx.Kind {
		case KindPanic:
			switch ctx.Cause {
			case CauseUnknown:
				return CodeStatementMightPanic, "statement might panic", true
			case CausePanic:
				return CodePanicMightPanic, "panic!(..) statement might panic", true
			case CauseAssert:
				return CodeAssertMightNotHold, "assert!(..) statement might not hold", true
			case CauseUnreachable:
				return CodeUnreachableReachable, "unreachable!(..) statement might be reachable", true
			case CauseUnimplemented:
				return CodeUnimplementedReached, "unimplemented!(..) statement might be reachable", true
			}
		case KindAssertTerminator:
			return CodeAssertTerminator, fmt.Sprintf("assertion might fail with %q", ctx.Message), true
		case KindAbortTerminator:
			return CodeMightAbort, "statement might abort", true
		case KindUnreachableTerminator:
			return CodeUnreachableTerminator, "unreachable code might be reachable. This might be a bug in the compiler.", true
		case KindExhalePostcondition:
			return CodePostcondition, "postcondition might not hold", true
		case KindExhaleLoopInvariant:
			return CodeLoopInvariantExhale, "loop invariant might not hold", true
		case KindAssertLoopInvariant:
			return CodeLoopInvariantAssert, "loop invariant might not hold", true
		}
	case ExhaleAssertionFalse:
		switch ctx.Kind {
		case KindExhalePrecondition:
			return CodePrecondition, "precondition might not hold", true
		case KindExhalePostcondition:
			return CodePostcondition, "postcondition might not hold", true
		case KindExhaleLoopInvariant:
			return CodeLoopInvariantExhale, "loop invariant might not hold", true
		}
	case ExhaleInsufficientPermission:
		switch ctx.Kind {
		case KindExhalePrecondition:
			return CodePreconditionPerm, "insufficient permission to satisfy the precondition", true
		case KindExhalePostcondition:
			return CodePostconditionPerm, "insufficient permission to satisfy the postcondition", true
		case KindExhaleLoopInvariant:
			return CodeLoopInvariantPerm, "insufficient permission to satisfy the loop invariant", true
		}
	}
	return "", "", false
}

// contextMatch handles contexts that decide the diagnostic on their own,
// whatever the exact failure reason reported by the backend.
func contextMatch(kind string, ctx ErrorContext, raw string) (code, msg string, ok bool) {
	if ctx.Kind == KindUnexpected {
		return kind, fmt.Sprintf("unexpected verification error (%s)", raw), true
	}
	if !strings.HasPrefix(kind, "exhale.failed:") {
		return "", "", false
	}
	switch ctx.Kind {
	case KindExhalePrecondition:
		return CodePrecondition, fmt.Sprintf("precondition might not hold (%s)", raw), true
	case KindExhalePostcondition:
		return CodePostcondition, fmt.Sprintf("postcondition might not hold (%s)", raw), true
	case KindExhaleLoopInvariant:
		return CodeLoopInvariantExhale, fmt.Sprintf("loop invariant might not hold (%s)", raw), true
	}
	return "", "", false
}
