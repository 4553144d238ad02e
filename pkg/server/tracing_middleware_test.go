package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestTracingUnaryInterceptor(t *testing.T) {
	interceptor := TracingUnaryInterceptor(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	t.Run("GeneratesRequestID", func(t *testing.T) {
		var seen string
		resp, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
			seen = GetRequestID(ctx)
			return "ok", nil
		})
		if err != nil || resp != "ok" {
			t.Fatalf("unexpected result %v %v", resp, err)
		}
		if seen == "" {
			t.Error("Expected generated request ID inside handler")
		}
	})

	t.Run("RequestIDFromMetadata", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "req-123"))
		_, _ = interceptor(ctx, "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
			if got := GetRequestID(ctx); got != "req-123" {
				t.Errorf("Expected req-123, got %q", got)
			}
			return nil, nil
		})
	})

	t.Run("ErrorPassThrough", func(t *testing.T) {
		testErr := status.Error(codes.Unavailable, "database down")
		_, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, testErr
		})
		if status.Code(err) != codes.Unavailable {
			t.Errorf("Expected Unavailable, got %v", err)
		}
	})
}

func TestRequestLogger(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(zaptest.NewLogger(t)))
	r.GET("/users", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c.Request.Context()))
	})

	t.Run("GeneratesID", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if w.Body.String() == "" {
			t.Error("Expected request ID in handler context")
		}
		if w.Header().Get(RequestIDHeader) != w.Body.String() {
			t.Error("Expected request ID echoed in response header")
		}
	})

	t.Run("KeepsIncomingID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		req.Header.Set(RequestIDHeader, "existing-id")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Body.String() != "existing-id" {
			t.Errorf("Expected existing-id, got %q", w.Body.String())
		}
	})
}

func TestGetRequestID(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("Expected empty request ID, got %q", id)
	}

	ctx := context.WithValue(context.Background(), RequestIDKey, "test-id-456")
	if id := GetRequestID(ctx); id != "test-id-456" {
		t.Errorf("Expected test-id-456, got %q", id)
	}
}

func TestWithRequestID(t *testing.T) {
	base := zap.NewNop()

	if WithRequestID(context.Background(), base) != base {
		t.Error("Expected logger unchanged without request ID")
	}

	ctx := context.WithValue(context.Background(), RequestIDKey, "test-id-789")
	if WithRequestID(ctx, base) == base {
		t.Error("Expected a derived logger with request ID")
	}
}
