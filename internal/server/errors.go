package server

import (
	"context"
	"errors"

	"StableLedger/internal/errcode"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// grpcCode maps an engine error code to the gRPC status code callers see.
func grpcCode(code errcode.Code) codes.Code {
	switch code {
	case errcode.CodeVaultNotFound:
		return codes.NotFound
	case errcode.CodeAlreadyInitialized, errcode.CodeDuplicate:
		return codes.AlreadyExists
	case errcode.CodeNotInitialized, errcode.CodePoolNotActive:
		return codes.FailedPrecondition
	case errcode.CodeSequenceGap, errcode.CodeOutOfOrder:
		return codes.Aborted
	}

	switch code.Category() {
	case errcode.CategoryParameter:
		return codes.InvalidArgument
	case errcode.CategoryAuthorization:
		return codes.PermissionDenied
	case errcode.CategoryCapacity:
		return codes.ResourceExhausted
	case errcode.CategorySolvency, errcode.CategoryLiquidation:
		return codes.FailedPrecondition
	case errcode.CategoryOracle:
		return codes.Unavailable
	case errcode.CategoryArithmetic:
		return codes.OutOfRange
	}
	return codes.Internal
}

// toStatus converts any error returned by a handler into a gRPC status
// error. Status errors pass through.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	if code := errcode.CodeOf(err); code != errcode.CodeUnknown {
		return status.Error(grpcCode(code), err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func invalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}
