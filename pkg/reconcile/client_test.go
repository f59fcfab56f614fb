package reconcile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func TestClient_BreakerOpensOnServerFailures(t *testing.T) {
	req := require.New(t)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "t", BreakerFailures: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Conversations(ctx)
		req.Error(err)
	}
	req.Equal(int64(3), hits.Load())

	_, err := c.Conversations(ctx)
	req.ErrorIs(err, gobreaker.ErrOpenState, "circuit opens after consecutive server failures")
	req.Equal(int64(3), hits.Load(), "an open circuit stops hitting the server")
}

func TestClient_RejectionsDoNotTripBreaker(t *testing.T) {
	req := require.New(t)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "t", BreakerFailures: 3})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := c.Conversations(ctx)
		req.Error(err)
		req.False(errors.Is(err, gobreaker.ErrOpenState), "a responsive server keeps the circuit closed")
	}
	req.Equal(int64(10), hits.Load())
}
