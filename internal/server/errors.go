package server

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/service"
)

// errorClass is the transport-neutral category of a service error.
type errorClass int

const (
	classInternal errorClass = iota
	classInvalid
	classUnprocessable
	classNotFound
	classConflict
	classPrecondition
	classCanceled
	classDeadline
)

func classifyError(err error) errorClass {
	var integrity *catalog.IntegrityError
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return classInvalid
	case errors.Is(err, service.ErrIncompleteProduct),
		errors.Is(err, catalog.ErrInvalidEntity),
		errors.As(err, &integrity):
		return classUnprocessable
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrVersionNotFound),
		errors.Is(err, catalog.ErrNotFound):
		return classNotFound
	case errors.Is(err, catalog.ErrHistoryRewrite), errors.Is(err, catalog.ErrConcurrentUpdate):
		return classConflict
	case errors.Is(err, service.ErrNoCatalogVersion):
		return classPrecondition
	case errors.Is(err, context.Canceled):
		return classCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return classDeadline
	default:
		return classInternal
	}
}

// serviceErrorMessage exposes the error text only for caller mistakes.
func serviceErrorMessage(err error) string {
	switch classifyError(err) {
	case classInvalid, classUnprocessable, classNotFound, classConflict, classPrecondition:
		return err.Error()
	case classCanceled:
		return "request canceled"
	case classDeadline:
		return "deadline exceeded"
	default:
		return "internal server error"
	}
}

func httpStatus(err error) int {
	switch classifyError(err) {
	case classInvalid:
		return http.StatusBadRequest
	case classUnprocessable:
		return http.StatusUnprocessableEntity
	case classNotFound:
		return http.StatusNotFound
	case classConflict, classPrecondition:
		return http.StatusConflict
	case classCanceled:
		return http.StatusRequestTimeout
	case classDeadline:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	message := serviceErrorMessage(err)
	switch classifyError(err) {
	case classInvalid:
		return status.Error(codes.InvalidArgument, message)
	case classUnprocessable, classPrecondition:
		return status.Error(codes.FailedPrecondition, message)
	case classNotFound:
		return status.Error(codes.NotFound, message)
	case classConflict:
		return status.Error(codes.Aborted, message)
	case classCanceled:
		return status.Error(codes.Canceled, message)
	case classDeadline:
		return status.Error(codes.DeadlineExceeded, message)
	default:
		return status.Error(codes.Internal, message)
	}
}
