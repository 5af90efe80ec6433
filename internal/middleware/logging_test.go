package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestHTTPRequestLogging(t *testing.T) {
	t.Run("logs request with request_id in context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

		var capturedReqID string
		var capturedLogger *slog.Logger
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := RequestIDFromContext(r.Context())
			if !ok {
				t.Fatal("expected request_id in context")
			}
			capturedReqID = id
			capturedLogger = LoggerFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})

		handler := HTTPRequestLogging(logger)(inner)
		req := httptest.NewRequest(http.MethodPost, "/v1/orders/price", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if _, err := uuid.Parse(capturedReqID); err != nil {
			t.Fatalf("request_id %q is not a UUID: %v", capturedReqID, err)
		}
		if got := rec.Header().Get(RequestIDHeader); got != capturedReqID {
			t.Fatalf("%s = %q, want %q", RequestIDHeader, got, capturedReqID)
		}
		if capturedLogger == nil {
			t.Fatal("expected logger in context")
		}

		output := buf.String()
		for _, want := range []string{
			"request started",
			"request completed",
			capturedReqID,
			"method=POST",
			"path=/v1/orders/price",
			"status_code=200",
			"duration_ms=",
		} {
			if !strings.Contains(output, want) {
				t.Fatalf("expected %q in log output, got: %s", want, output)
			}
		}
	})

	t.Run("propagates caller request id", func(t *testing.T) {
		var capturedReqID string
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedReqID, _ = RequestIDFromContext(r.Context())
		})

		handler := HTTPRequestLogging(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(inner)
		req := httptest.NewRequest(http.MethodGet, "/v1/catalog", nil)
		req.Header.Set(RequestIDHeader, "till-7-0042")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if capturedReqID != "till-7-0042" {
			t.Fatalf("request_id = %q, want till-7-0042", capturedReqID)
		}
		if got := rec.Header().Get(RequestIDHeader); got != "till-7-0042" {
			t.Fatalf("%s = %q, want till-7-0042", RequestIDHeader, got)
		}
	})

	t.Run("adds trace id from the active span", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: traceID,
			SpanID:  spanID,
		}))

		handler := HTTPRequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
		req := httptest.NewRequest(http.MethodGet, "/v1/catalog", nil).WithContext(ctx)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if !strings.Contains(buf.String(), "trace_id=4bf92f3577b34da6a3ce929d0e0e4736") {
			t.Fatalf("expected trace_id in log output, got: %s", buf.String())
		}
	})

	t.Run("captures server error status at error level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

		inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		handler := HTTPRequestLogging(logger)(inner)
		req := httptest.NewRequest(http.MethodGet, "/v1/orders/missing", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if !strings.Contains(buf.String(), "status_code=500") || !strings.Contains(buf.String(), "level=ERROR") {
			t.Fatalf("expected ERROR line with status_code=500, got: %s", buf.String())
		}
	})

	t.Run("captures status from Write without explicit WriteHeader", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

		inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("hello"))
		})

		handler := HTTPRequestLogging(logger)(inner)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if !strings.Contains(buf.String(), "status_code=200") {
			t.Fatalf("expected status_code=200 in log output, got: %s", buf.String())
		}
	})

	t.Run("nil logger uses default", func(t *testing.T) {
		inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		handler := HTTPRequestLogging(nil)(inner)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		supplied string
		keep     bool
	}{
		{name: "empty", supplied: "", keep: false},
		{name: "whitespace", supplied: "   ", keep: false},
		{name: "control characters", supplied: "abc\ndef", keep: false},
		{name: "too long", supplied: strings.Repeat("a", maxRequestIDLen+1), keep: false},
		{name: "usable", supplied: "pos-12", keep: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := requestID(tt.supplied)
			if tt.keep {
				if got != tt.supplied {
					t.Fatalf("requestID(%q) = %q, want it kept", tt.supplied, got)
				}
				return
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Fatalf("requestID(%q) = %q, want a fresh UUID", tt.supplied, got)
			}
		})
	}
}

func TestUnaryRequestLoggingInterceptor(t *testing.T) {
	t.Run("logs gRPC request with request_id", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

		var capturedReqID string
		interceptor := UnaryRequestLoggingInterceptor(logger)
		info := &grpc.UnaryServerInfo{FullMethod: "/orderz.v1.OrderService/PriceOrder"}

		resp, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
			id, ok := RequestIDFromContext(ctx)
			if !ok {
				t.Fatal("expected request_id in context")
			}
			capturedReqID = id
			return "ok", nil
		})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp != "ok" {
			t.Fatalf("expected response 'ok', got %v", resp)
		}
		if _, err := uuid.Parse(capturedReqID); err != nil {
			t.Fatalf("request_id %q is not a UUID: %v", capturedReqID, err)
		}

		output := buf.String()
		for _, want := range []string{"request started", "request completed", "/orderz.v1.OrderService/PriceOrder", "status_code=OK", "duration_ms="} {
			if !strings.Contains(output, want) {
				t.Fatalf("expected %q in log output, got: %s", want, output)
			}
		}
	})

	t.Run("propagates metadata request id", func(t *testing.T) {
		interceptor := UnaryRequestLoggingInterceptor(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
		info := &grpc.UnaryServerInfo{FullMethod: "/orderz.v1.OrderService/GetOrder"}
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "kiosk-3"))

		var capturedReqID string
		_, _ = interceptor(ctx, "req", info, func(ctx context.Context, _ any) (any, error) {
			capturedReqID, _ = RequestIDFromContext(ctx)
			return nil, nil
		})
		if capturedReqID != "kiosk-3" {
			t.Fatalf("request_id = %q, want kiosk-3", capturedReqID)
		}
	})

	t.Run("logs internal errors at error level", func(t *testing.T) {
		var buf bytes.Buffer
		interceptor := UnaryRequestLoggingInterceptor(slog.New(slog.NewTextHandler(&buf, nil)))
		info := &grpc.UnaryServerInfo{FullMethod: "/orderz.v1.OrderService/PlaceOrder"}

		_, _ = interceptor(context.Background(), "req", info, func(context.Context, any) (any, error) {
			return nil, status.Error(codes.Internal, "internal error")
		})
		if !strings.Contains(buf.String(), "level=ERROR") || !strings.Contains(buf.String(), "status_code=Internal") {
			t.Fatalf("expected ERROR line with status_code=Internal, got: %s", buf.String())
		}
	})

	t.Run("logs error status code", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

		interceptor := UnaryRequestLoggingInterceptor(logger)
		info := &grpc.UnaryServerInfo{FullMethod: "/orderz.v1.OrderService/GetOrder"}

		_, err := interceptor(context.Background(), "req", info, func(context.Context, any) (any, error) {
			return nil, status.Error(codes.NotFound, "not found")
		})

		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(buf.String(), "status_code=NotFound") {
			t.Fatalf("expected status_code=NotFound in log output, got: %s", buf.String())
		}
	})

	t.Run("nil logger uses default", func(t *testing.T) {
		interceptor := UnaryRequestLoggingInterceptor(nil)
		info := &grpc.UnaryServerInfo{FullMethod: "/test"}

		resp, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
			return "ok", nil
		})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp != "ok" {
			t.Fatalf("expected 'ok', got %v", resp)
		}
	})
}

func TestRequestIDFromContext(t *testing.T) {
	t.Run("returns false for empty context", func(t *testing.T) {
		_, ok := RequestIDFromContext(context.Background())
		if ok {
			t.Fatal("expected false for empty context")
		}
	})

	t.Run("returns value when set", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), requestIDKey, "test-id")
		id, ok := RequestIDFromContext(ctx)
		if !ok {
			t.Fatal("expected true")
		}
		if id != "test-id" {
			t.Fatalf("expected 'test-id', got %q", id)
		}
	})
}

func TestLoggerFromContext(t *testing.T) {
	t.Run("returns default for empty context", func(t *testing.T) {
		logger := LoggerFromContext(context.Background())
		if logger == nil {
			t.Fatal("expected non-nil logger")
		}
	})

	t.Run("returns custom logger when set", func(t *testing.T) {
		custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
		ctx := context.WithValue(context.Background(), loggerKey, custom)
		got := LoggerFromContext(ctx)
		if got != custom {
			t.Fatal("expected custom logger")
		}
	})
}

func TestResponseWriterCapture(t *testing.T) {
	t.Run("double WriteHeader only records first", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

		rw.WriteHeader(http.StatusCreated)
		rw.WriteHeader(http.StatusInternalServerError) // should be ignored

		if rw.statusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rw.statusCode)
		}
	})

	t.Run("Unwrap returns underlying writer", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec}
		if rw.Unwrap() != rec {
			t.Fatal("Unwrap should return underlying ResponseWriter")
		}
	})
}
