package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/service"
)

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		httpStatus int
		grpcCode   codes.Code
	}{
		{name: "wrapped invalid request", err: fmt.Errorf("price: %w", service.ErrInvalidRequest), httpStatus: http.StatusBadRequest, grpcCode: codes.InvalidArgument},
		{name: "invalid entity", err: catalog.ErrInvalidEntity, httpStatus: http.StatusUnprocessableEntity, grpcCode: codes.FailedPrecondition},
		{name: "integrity", err: fmt.Errorf("edit: %w", &catalog.IntegrityError{Kind: catalog.KindProduct, ID: "pizza", Reason: "unknown modifier type"}), httpStatus: http.StatusUnprocessableEntity, grpcCode: codes.FailedPrecondition},
		{name: "order not found", err: service.ErrOrderNotFound, httpStatus: http.StatusNotFound, grpcCode: codes.NotFound},
		{name: "version not found", err: service.ErrVersionNotFound, httpStatus: http.StatusNotFound, grpcCode: codes.NotFound},
		{name: "catalog not found", err: catalog.ErrNotFound, httpStatus: http.StatusNotFound, grpcCode: codes.NotFound},
		{name: "history rewrite", err: catalog.ErrHistoryRewrite, httpStatus: http.StatusConflict, grpcCode: codes.Aborted},
		{name: "no version", err: service.ErrNoCatalogVersion, httpStatus: http.StatusConflict, grpcCode: codes.FailedPrecondition},
		{name: "deadline", err: context.DeadlineExceeded, httpStatus: http.StatusGatewayTimeout, grpcCode: codes.DeadlineExceeded},
		{name: "canceled", err: context.Canceled, httpStatus: http.StatusRequestTimeout, grpcCode: codes.Canceled},
		{name: "unknown", err: errors.New("boom"), httpStatus: http.StatusInternalServerError, grpcCode: codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := httpStatus(tt.err); got != tt.httpStatus {
				t.Fatalf("httpStatus() = %d, want %d", got, tt.httpStatus)
			}
			if got := status.Code(toGRPCError(tt.err)); got != tt.grpcCode {
				t.Fatalf("toGRPCError() code = %s, want %s", got, tt.grpcCode)
			}
		})
	}
}

func TestToGRPCErrorKeepsStatusErrors(t *testing.T) {
	if toGRPCError(nil) != nil {
		t.Fatal("toGRPCError(nil) should be nil")
	}

	original := status.Error(codes.Unavailable, "draining")
	if got := toGRPCError(original); got != original {
		t.Fatalf("toGRPCError() = %v, want the original status error", got)
	}
}

func TestServiceErrorMessageHidesInternalErrors(t *testing.T) {
	if got := serviceErrorMessage(errors.New("dial tcp 10.0.0.5:5432")); got != "internal server error" {
		t.Fatalf("serviceErrorMessage() = %q, want internal server error", got)
	}
	if got := serviceErrorMessage(service.ErrProductNotFound); got != service.ErrProductNotFound.Error() {
		t.Fatalf("serviceErrorMessage() = %q, want %q", got, service.ErrProductNotFound.Error())
	}
}
