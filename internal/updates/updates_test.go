package updates

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func releaseServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/vnd.github+json" {
			t.Errorf("unexpected Accept header %q", r.Header.Get("Accept"))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheck(t *testing.T) {
	const feed = `{"tag_name":"v1.4.0","html_url":"https://example.com/r/1.4.0","published_at":"2026-01-02T03:04:05Z"}`

	tests := []struct {
		name           string
		current        string
		wantNewer      bool
		wantComparable bool
	}{
		{"older", "1.3.2", true, true},
		{"same with prefix", "v1.4.0", false, true},
		{"same without prefix", "1.4.0", false, true},
		{"newer local build", "1.5.0-rc.1", false, true},
		{"short version", "1.3", true, true},
		{"source build", "unknown (built from source)", false, false},
		{"empty", "", false, false},
	}

	srv := releaseServer(t, http.StatusOK, feed)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Checker{URL: srv.URL}.Check(context.Background(), tt.current)
			if err != nil {
				t.Fatal(err)
			}
			if res.Newer != tt.wantNewer || res.Comparable != tt.wantComparable {
				t.Errorf("Check(%q) = newer %v comparable %v", tt.current, res.Newer, res.Comparable)
			}
			if res.Latest.Tag != "v1.4.0" || res.Latest.URL != "https://example.com/r/1.4.0" {
				t.Errorf("unexpected release %+v", res.Latest)
			}
			if res.Latest.PublishedAt.IsZero() {
				t.Error("publish date not decoded")
			}
		})
	}
}

func TestLatestErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "no releases", status: http.StatusNotFound, body: `{"message":"Not Found"}`, wantErr: ErrNoRelease},
		{name: "empty tag", status: http.StatusOK, body: `{}`, wantErr: ErrNoRelease},
		{name: "rate limited", status: http.StatusForbidden, body: `{"message":"API rate limit exceeded"}`},
		{name: "not json", status: http.StatusOK, body: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := releaseServer(t, tt.status, tt.body)
			_, err := Checker{URL: srv.URL}.Latest(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLatestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := (Checker{URL: url}).Latest(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
}
