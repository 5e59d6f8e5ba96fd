package errutil

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var grpcCodes = map[CoreStatus]codes.Code{
	StatusBadRequest:           codes.InvalidArgument,
	StatusValidationFailed:     codes.InvalidArgument,
	StatusUnsupportedMediaType: codes.InvalidArgument,
	StatusUnauthorized:         codes.Unauthenticated,
	StatusForbidden:            codes.PermissionDenied,
	StatusNotFound:             codes.NotFound,
	StatusConflict:             codes.AlreadyExists,
	StatusUnprocessableEntity:  codes.FailedPrecondition,
	StatusTooManyRequests:      codes.ResourceExhausted,
	StatusClientClosedRequest:  codes.Canceled,
	StatusNotImplemented:       codes.Unimplemented,
	StatusBadGateway:           codes.Unavailable,
	StatusServiceUnavailable:   codes.Unavailable,
	StatusTimeout:              codes.DeadlineExceeded,
	StatusGatewayTimeout:       codes.DeadlineExceeded,
	StatusInternal:             codes.Internal,
}

func (s CoreStatus) GRPCCode() codes.Code {
	if c, ok := grpcCodes[s]; ok {
		return c
	}
	return codes.Unknown
}

// StatusOf classifies any error returned by a service or provider adapter.
// Transient provider failures are retryable on the caller side, permanent
// ones are not.
func StatusOf(err error) CoreStatus {
	var base BaseError
	if errors.As(err, &base) {
		return base.Code
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Permanent {
			return StatusUnprocessableEntity
		}
		return StatusServiceUnavailable
	}

	var coder interface{ Status() CoreStatus }
	switch {
	case errors.As(err, &coder):
		return coder.Status()
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusInternal
	}
}

func messageOf(err error) string {
	var base BaseError
	if errors.As(err, &base) {
		return base.messageWithErr()
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return ReasonOf(err)
	}
	return err.Error()
}

// ToGRPCError turns a domain error into a gRPC status error. Errors that
// already carry a status pass through unchanged.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(StatusOf(err).GRPCCode(), messageOf(err))
}
