package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, opts Options) (*Client, *[]time.Duration) {
	t.Helper()
	if opts.BaseDelay == 0 {
		opts.BaseDelay = 10 * time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 80 * time.Millisecond
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 6
	}
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var sleeps []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, &sleeps
}

func TestThrottledRequestRetriesUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("<html>seite</html>"))
	}))
	defer srv.Close()

	c, _ := testClient(t, Options{})

	body, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if body != "<html>seite</html>" {
		t.Fatalf("unexpected body %q", body)
	}
	if got := hits.Load(); got != 4 {
		t.Fatalf("expected 4 requests (3 throttled + 1 success), got %d", got)
	}
}

func TestBackoffEscalatesMonotonicallyToCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, sleeps := testClient(t, Options{
		BaseDelay:  10 * time.Millisecond,
		MaxBackoff: 40 * time.Millisecond,
		MaxRetries: 5,
	})

	_, err := c.Get(context.Background(), srv.URL)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}

	got := *sleeps
	if len(got) != 5 {
		t.Fatalf("expected 5 pre-attempt sleeps, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("backoff shrank between attempts: %v", got)
		}
	}
	if got[0] != 10*time.Millisecond {
		t.Fatalf("first attempt must wait the base delay, got %v", got[0])
	}
	for _, d := range got {
		if d > 40*time.Millisecond {
			t.Fatalf("backoff exceeded cap: %v", got)
		}
	}
	if got[len(got)-1] != 40*time.Millisecond {
		t.Fatalf("expected escalation to reach the cap, got %v", got)
	}
}

func TestRetryAfterHeaderOverridesBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, sleeps := testClient(t, Options{})

	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	got := *sleeps
	if len(got) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(got))
	}
	if got[1] != 2*time.Second {
		t.Fatalf("Retry-After hint ignored: second sleep was %v", got[1])
	}
}

func TestNonRetryableStatusFailsImmediately(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, _ := testClient(t, Options{})

	_, err := c.Get(context.Background(), srv.URL)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", httpErr.StatusCode)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("non-retryable status must not retry, got %d requests", got)
	}
}

func TestExecuteSubmitsFormEncodedPayload(t *testing.T) {
	var gotOffset, gotLang, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotOffset = r.PostFormValue("offset")
		gotLang = r.PostFormValue("lang")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, _ := testClient(t, Options{UserAgent: "jobboard-harvester/1.0"})

	payload := url.Values{}
	payload.Set("offset", "24")
	payload.Set("lang", "de")
	if _, err := c.Execute(context.Background(), "post", srv.URL, payload); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Fatalf("unexpected content type %q", gotContentType)
	}
	if gotOffset != "24" || gotLang != "de" {
		t.Fatalf("payload not submitted: offset=%q lang=%q", gotOffset, gotLang)
	}
}

func TestExecuteAppendsQueryForGetForms(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, _ := testClient(t, Options{})

	payload := url.Values{}
	payload.Set("start", "40")
	if _, err := c.Execute(context.Background(), "GET", srv.URL+"?lang=de", payload); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotQuery.Get("start") != "40" || gotQuery.Get("lang") != "de" {
		t.Fatalf("query payload lost: %v", gotQuery)
	}
}

func TestGetHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseDelay: time.Hour, MaxRetries: 3, MaxBackoff: time.Hour})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx, srv.URL); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
