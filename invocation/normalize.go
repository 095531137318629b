package invocation

import (
	"errors"
	"fmt"

	"github.com/hupe1980/agentinvoke/core"
)

// Normalize maps err onto a caller-facing *core.Error.
//
// An err that already is (or wraps) a *core.Error is returned unchanged. When
// sig has fired, its reason decides the kind and the shape of err is ignored:
// a backend's reaction to cancellation is implementation defined. Otherwise
// the failure is KindUnknown with err as cause.
func Normalize(err error, sig *Signal) *core.Error {
	var normalized *core.Error
	if errors.As(err, &normalized) {
		return normalized
	}

	if sig != nil {
		switch sig.Reason() {
		case ReasonTimeout:
			return core.NewError(core.KindTimeout, fmt.Sprintf("invocation timed out after %s", sig.Timeout()), err)
		case ReasonCancelled:
			return core.NewError(core.KindCancelled, "invocation was cancelled", err)
		}
	}

	if err == nil {
		return core.NewError(core.KindUnknown, "backend failed without an error", nil)
	}
	return core.NewError(core.KindUnknown, err.Error(), err)
}

// Recovered converts a value recovered from a panicking backend into an error.
// Non-error values are stringified through core.PanicError.
func Recovered(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return &core.PanicError{Value: v}
}
