package citations

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ArxivMind/internal/config"
	"ArxivMind/internal/domain"
)

func TestLookupReturnsCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/paper/ArXiv:2501.00001" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("fields"); got != lookupFields {
			t.Errorf("unexpected fields %q", got)
		}
		if got := r.Header.Get("x-api-key"); got != "s2-key" {
			t.Errorf("unexpected api key %q", got)
		}
		_, _ = w.Write([]byte(`{"paperId":"abc","citationCount":42,"influentialCitationCount":7}`))
	}))
	defer srv.Close()

	client := NewClient(config.CitationsConfig{
		BaseURL:         srv.URL,
		APIKey:          "s2-key",
		RequestInterval: config.Duration{Duration: time.Millisecond},
	})

	counts, err := client.Lookup(context.Background(), "2501.00001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if counts.Citations != 42 || counts.InfluentialCitations != 7 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Paper not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(config.CitationsConfig{BaseURL: srv.URL})
	_, err := client.Lookup(context.Background(), "2501.99999")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(config.CitationsConfig{BaseURL: srv.URL})
	if _, err := client.Lookup(context.Background(), "2501.00001"); err == nil {
		t.Fatal("expected error")
	}
}
