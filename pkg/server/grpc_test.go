package server

import (
	"context"
	"errors"
	"testing"

	"fulfillment-controlplane/pkg/errutil"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorInterceptorMapsDomainErrors(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}

	_, err := ErrorInterceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, errutil.NotFound("engagement not found", errors.New("missing"))
	})
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = ErrorInterceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, errutil.Transient("trust registry unavailable", errors.New("status 503"))
	})
	require.Equal(t, codes.Unavailable, status.Code(err))

	resp, err := ErrorInterceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
}
