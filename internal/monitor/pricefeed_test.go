package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPriceFeed_Price(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price":50123.5,"timestamp":1700000000000}`))
	}))
	defer srv.Close()

	q, err := NewPriceFeed(srv.URL+"/", time.Second).Price(context.Background(), "bitcoin")
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/bitcoin/price" {
		t.Errorf("path = %q", gotPath)
	}
	if q.Price != 50123.5 {
		t.Errorf("price = %v", q.Price)
	}
	if !q.Time().Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("time = %v", q.Time())
	}
}

func TestPriceFeed_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such asset", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewPriceFeed(srv.URL, 0).Price(context.Background(), "dogecoin")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "HTTP 404") || !strings.Contains(err.Error(), "no such asset") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPriceFeed_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	if _, err := NewPriceFeed(srv.URL, 0).Price(context.Background(), "bitcoin"); err == nil {
		t.Fatal("expected decode error")
	}
}
