// SPDX-License-Identifier: MPL-2.0

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitForHealthyImmediate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := WaitForHealthy(context.Background(), srv.URL+"/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForHealthyEventualSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := WaitForHealthy(context.Background(), srv.URL+"/health",
		WithTimeout(2*time.Second), WithPoll(10*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() < 3 {
		t.Errorf("expected at least 3 probes, got %d", calls.Load())
	}
}

func TestWaitForHealthyTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := WaitForHealthy(context.Background(), srv.URL+"/health",
		WithTimeout(100*time.Millisecond), WithPoll(20*time.Millisecond))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, ErrHealthTimeout) {
		t.Errorf("error does not wrap ErrHealthTimeout: %v", err)
	}

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error is not a *TimeoutError: %T", err)
	}
	if te.Last == nil {
		t.Error("TimeoutError lost the last probe failure")
	}
}

func TestWaitForHealthyUnreachable(t *testing.T) {
	t.Parallel()

	// Port 1 on loopback is essentially never listening.
	err := WaitForHealthy(context.Background(), "http://127.0.0.1:1/health",
		WithTimeout(100*time.Millisecond), WithPoll(20*time.Millisecond))
	if !errors.Is(err, ErrHealthTimeout) {
		t.Fatalf("expected ErrHealthTimeout, got %v", err)
	}
}

func TestProxyToleranceAcceptsNon5xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An app server predating the proxy health route answers 404; the
		// proxy itself is alive.
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	strict := WaitForHealthy(context.Background(), srv.URL,
		WithTimeout(100*time.Millisecond), WithPoll(20*time.Millisecond))
	if strict == nil {
		t.Fatal("strict probe should reject 404")
	}

	tolerant := WaitForHealthy(context.Background(), srv.URL,
		WithTimeout(time.Second), WithPoll(20*time.Millisecond), WithProxyTolerance())
	if tolerant != nil {
		t.Fatalf("tolerant probe should accept 404: %v", tolerant)
	}
}
