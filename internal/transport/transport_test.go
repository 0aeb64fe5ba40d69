package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func splitBase(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return u.Scheme + "://" + u.Host
}

func TestDoNormalizesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/widgets" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("expected query param page=2, got %q", r.URL.Query().Get("page"))
		}
		if r.Header.Get("X-Token") != "abc" {
			t.Errorf("expected header X-Token=abc")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(0, false, false)
	resp, err := c.Do(context.Background(), Config{
		Method:  "GET",
		URL:     "/widgets",
		BaseURL: splitBase(t, srv),
		Params:  map[string]string{"page": "2"},
		Headers: map[string]string{"X-Token": "abc"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("expected status 200, got %d", resp.Status)
	}
	if string(resp.Data) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", resp.Data)
	}
	if resp.Headers["Content-Type"][0] != "application/json" {
		t.Fatalf("expected content-type header to be carried through")
	}
}

func TestDoReturnsErrorWithStatusForUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
		w.Write([]byte("unavailable"))
	}))
	defer srv.Close()

	c := New(0, false, false)
	_, err := c.Do(context.Background(), Config{
		Method:  "GET",
		URL:     "/",
		BaseURL: splitBase(t, srv),
		Timeout: 5 * time.Second,
	})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if terr.Status != 503 {
		t.Fatalf("expected status 503 on error, got %d", terr.Status)
	}
	if string(terr.Data) != "unavailable" {
		t.Fatalf("expected upstream body on error, got %q", terr.Data)
	}
}

func TestDoReportsConnectionRefused(t *testing.T) {
	c := New(0, false, false)
	_, err := c.Do(context.Background(), Config{
		Method:  "GET",
		URL:     "/",
		BaseURL: "http://127.0.0.1:1", // nothing listens here
		Timeout: 2 * time.Second,
	})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if terr.Code != "ECONNREFUSED" {
		t.Fatalf("expected ECONNREFUSED, got %q (%v)", terr.Code, terr.Cause)
	}
}

func TestDoReportsCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := New(0, false, false)
	_, err := c.Do(ctx, Config{
		Method:  "GET",
		URL:     "/",
		BaseURL: splitBase(t, srv),
		Timeout: 10 * time.Second,
	})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !terr.Cancelled {
		t.Fatalf("expected a cancellation error, got %v", terr)
	}
	if !strings.Contains(terr.Error(), "cancelled") {
		t.Fatalf("expected cancellation sentinel in message, got %q", terr.Error())
	}
}

func TestDoTimesOutAsETIMEDOUT(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(0, false, false)
	_, err := c.Do(context.Background(), Config{
		Method:  "GET",
		URL:     "/",
		BaseURL: splitBase(t, srv),
		Timeout: 30 * time.Millisecond,
	})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if terr.Code != "ETIMEDOUT" {
		t.Fatalf("expected ETIMEDOUT, got %q (%v)", terr.Code, terr.Cause)
	}
}
