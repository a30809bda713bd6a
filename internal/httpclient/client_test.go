package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHostOf(t *testing.T) {
	cases := map[string]string{
		"https://digi.vatlib.it/iiif/x/manifest.json": "digi.vatlib.it",
		"http://example.org:8080/a/b?c=d":             "example.org:8080",
		"gallica.bnf.fr/ark:/12148/x":                 "gallica.bnf.fr/ark:/12148/x",
	}
	for url, want := range cases {
		if got := hostOf(url); got != want {
			t.Errorf("hostOf(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestIsVaticanHost(t *testing.T) {
	if !isVaticanHost("digi.vatlib.it") {
		t.Error("expected digi.vatlib.it to be recognized as a Vatican host")
	}
	if isVaticanHost("gallica.bnf.fr") {
		t.Error("gallica.bnf.fr must not be treated as a Vatican host")
	}
}

func TestJitteredDelayStaysWithinHostBounds(t *testing.T) {
	for i := 0; i < 20; i++ {
		d, err := jitteredDelay("example.org")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d < normalMinDelay || d > normalMaxDelay {
			t.Fatalf("delay %v out of normal bounds [%v,%v]", d, normalMinDelay, normalMaxDelay)
		}
	}
	for i := 0; i < 20; i++ {
		d, err := jitteredDelay("digi.vatlib.it")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d < vaticanMinDelay || d > vaticanMaxDelay {
			t.Fatalf("delay %v out of Vatican bounds [%v,%v]", d, vaticanMinDelay, vaticanMaxDelay)
		}
	}
}

func TestGetStatusReturnsBodyOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	c := New()
	status, body, err := c.GetStatus(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("got status %d, want 200", status)
	}
	if string(body) != "hello" {
		t.Errorf("got body %q, want hello", body)
	}
}

func TestGetStatusIsSingleShotOnRateLimit(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	// GetStatus must not retry on its own: a single 429 response comes back
	// immediately as status 429 with no error and no further hits against
	// the server. Retrying (and updating the shared backoff) is the
	// caller's job, per §4.1/§4.6.
	c := New()
	status, _, err := c.GetStatus(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusTooManyRequests {
		t.Errorf("got status %d, want 429", status)
	}
	if hits != 1 {
		t.Errorf("got %d requests reaching the server, want exactly 1 (no internal retry)", hits)
	}
}

func TestBackoffDelaysSubsequentRequestToSameHost(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New()
	// A caller's own attempt=1 backoff schedules a 2^1*15s window; confirm
	// the next GetStatus against that host actually waits for it by giving
	// it a deadline far shorter than the window and observing the context
	// deadline end the wait before the request reaches the server.
	c.Backoff(server.URL, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, _, err := c.GetStatus(ctx, server.URL); err == nil {
		t.Error("expected the context deadline to cut the backoff wait short")
	}
	if hits != 0 {
		t.Errorf("got %d requests reaching the server, want 0 while backoff is active", hits)
	}
}

func TestGetReturnsErrorForNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New()
	if _, err := c.Get(context.Background(), server.URL); err == nil {
		t.Error("expected an error for a 404 response")
	}
}
