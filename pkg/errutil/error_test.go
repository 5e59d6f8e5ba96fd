package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errSentinel = errors.New("sentinel")

func TestHelpersKeepCause(t *testing.T) {
	err := Conflict("already exists", errSentinel)

	require.ErrorIs(t, err, errSentinel)

	var be BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, StatusConflict, be.Status())
	require.Equal(t, http.StatusConflict, be.Code.HTTPStatus())
}

func TestHelpersWithoutCause(t *testing.T) {
	err := NotFound("missing", nil)

	var be BaseError
	require.True(t, errors.As(err, &be))
	require.Nil(t, be.Err)
	require.Equal(t, "[not_found] missing", err.Error())
}

func TestToGRPCError(t *testing.T) {
	err := ToGRPCError(UnprocessableEntity("evidence incomplete", errSentinel))
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	err = ToGRPCError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded))
	require.Equal(t, codes.DeadlineExceeded, status.Code(err))

	require.Nil(t, ToGRPCError(nil))
}

func TestProviderClassification(t *testing.T) {
	permanent := fmt.Errorf("credit: %w", Permanent("insufficient funds", nil))
	require.True(t, IsPermanent(permanent))
	require.Equal(t, "insufficient funds", ReasonOf(permanent))

	transient := Transient("status 503", errSentinel)
	require.False(t, IsPermanent(transient))
	require.ErrorIs(t, transient, errSentinel)
	require.Equal(t, "status 503: sentinel", ReasonOf(transient))

	require.False(t, IsPermanent(context.DeadlineExceeded))
	require.True(t, strings.HasPrefix(ReasonOf(context.DeadlineExceeded), "timeout"))
}

func TestReasonIsBounded(t *testing.T) {
	long := errors.New(strings.Repeat("x", 5000))
	require.Len(t, ReasonOf(long), maxReasonLength)
	require.Empty(t, ReasonOf(nil))
}

func TestStatusOfProviderErrors(t *testing.T) {
	transient := fmt.Errorf("credit: %w", Transient("status 503", errSentinel))
	require.Equal(t, StatusServiceUnavailable, StatusOf(transient))
	require.Equal(t, codes.Unavailable, status.Code(ToGRPCError(transient)))
	require.Equal(t, "status 503: sentinel", status.Convert(ToGRPCError(transient)).Message())

	permanent := Permanent("wallet closed", nil)
	require.Equal(t, StatusUnprocessableEntity, StatusOf(permanent))
	require.Equal(t, codes.FailedPrecondition, status.Code(ToGRPCError(permanent)))

	require.Equal(t, StatusConflict, StatusOf(Conflict("verification already submitted", errSentinel)))
	require.Equal(t, StatusClientClosedRequest, StatusOf(context.Canceled))
	require.Equal(t, StatusInternal, StatusOf(errSentinel))
	require.Equal(t, codes.Unknown, CoreStatus("bogus").GRPCCode())
}

func TestToGRPCErrorKeepsStatusErrors(t *testing.T) {
	err := status.Error(codes.Aborted, "lease lost")
	require.Equal(t, codes.Aborted, status.Code(ToGRPCError(err)))
}
