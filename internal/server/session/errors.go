package session

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/server/services"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
)

var (
	errUnknownEvent = errors.New("unknown event")
	errBadPayload   = errors.New("malformed payload")
)

// toWireError maps a handler error to the response frame error. This is the
// only place request errors become wire codes.
func toWireError(err error) *wire.Error {
	var (
		partial *services.PartialGroupError
		verr    *services.ValidationError
	)
	switch {
	case errors.As(err, &partial):
		return &wire.Error{Code: wire.CodePartialGroupSubmit, Message: err.Error(), Retryable: true}
	case errors.As(err, &verr):
		return &wire.Error{Code: wire.CodeValidation, Message: verr.Error()}
	case errors.Is(err, common.ErrValidation):
		return &wire.Error{Code: wire.CodeValidation, Message: err.Error()}
	case errors.Is(err, common.ErrorNotFound):
		return &wire.Error{Code: wire.CodeNotFound, Message: "not found"}
	case errors.Is(err, common.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return &wire.Error{Code: wire.CodeStoreUnavailable, Message: "store unavailable, retry later", Retryable: true}
	case errors.Is(err, common.ErrRateLimited):
		return &wire.Error{Code: wire.CodeRateLimited, Message: "too many requests", Retryable: true}
	case errors.Is(err, errUnknownEvent):
		return &wire.Error{Code: wire.CodeUnknownEvent, Message: err.Error()}
	case errors.Is(err, errBadPayload), errors.Is(err, ErrMalformedFrame):
		return &wire.Error{Code: wire.CodeBadFrame, Message: err.Error()}
	default:
		return &wire.Error{Code: wire.CodeInternal, Message: "internal error"}
	}
}
