package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/downloadd/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantStart int64
		wantTotal int64
		wantErr   bool
	}{
		{
			name:      "complete range",
			header:    "bytes 5-10/11",
			wantStart: 5,
			wantTotal: 11,
		},
		{
			name:      "unknown total",
			header:    "bytes 5-10/*",
			wantStart: 5,
			wantTotal: record.TotalBytesUnknown,
		},
		{
			name:    "missing header",
			header:  "",
			wantErr: true,
		},
		{
			name:    "garbage",
			header:  "pages 1-2",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, total, err := parseContentRange(tt.header)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}

func TestClassifyRetryAfter(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantHas   bool
		wantDelay time.Duration
	}{
		{"seconds header", "120", true, 120 * time.Second},
		{"zero seconds", "0", true, 0},
		{"absent header", "", false, 0},
		{"http date is ignored", "Fri, 31 Dec 1999 23:59:59 GMT", false, 0},
		{"negative is ignored", "-5", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: http.StatusServiceUnavailable, Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}

			result := classifyRetryAfter(resp)

			assert.Equal(t, OutcomeRetryAfter, result.Outcome.Kind)
			assert.Equal(t, tt.wantHas, result.Outcome.HasRetryAfter)
			assert.Equal(t, tt.wantDelay, result.Outcome.RetryAfter)
		})
	}
}

func TestClassifyRedirect(t *testing.T) {
	reqURL, err := url.Parse("http://example.com/path")
	require.NoError(t, err)

	tests := []struct {
		name         string
		location     string
		wantKind     OutcomeKind
		wantLocation string
	}{
		{
			name:         "absolute location",
			location:     "http://mirror.example.com/other",
			wantKind:     OutcomeRedirect,
			wantLocation: "http://mirror.example.com/other",
		},
		{
			name:         "relative location resolves against the request",
			location:     "/other_path",
			wantKind:     OutcomeRedirect,
			wantLocation: "http://example.com/other_path",
		},
		{
			name:     "missing location is fatal",
			location: "",
			wantKind: OutcomeFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: http.StatusMovedPermanently,
				Header:     http.Header{},
				Request:    &http.Request{URL: reqURL},
			}
			if tt.location != "" {
				resp.Header.Set("Location", tt.location)
			}

			result := classifyRedirect(resp)

			assert.Equal(t, tt.wantKind, result.Outcome.Kind)
			assert.Equal(t, tt.wantLocation, result.Outcome.Location)

			if tt.wantKind == OutcomeFatal {
				assert.Equal(t, http.StatusMovedPermanently, result.Outcome.Code)
			}
		})
	}
}

func TestAttemptMalformedURIIsFatal(t *testing.T) {
	e := NewFetchExecutor("test")

	result := e.Attempt(context.Background(), "http://bad host/file", "unused", Plan{}, func(int64) {})

	assert.Equal(t, OutcomeFatal, result.Outcome.Kind)
	assert.Equal(t, http.StatusBadRequest, result.Outcome.Code)
}

func TestAttemptConnectionFailureIsInterrupted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listens here anymore

	e := NewFetchExecutor("test")

	result := e.Attempt(context.Background(), srv.URL+"/file", "unused", Plan{}, func(int64) {})

	assert.Equal(t, OutcomeInterrupted, result.Outcome.Kind)
	assert.False(t, result.Outcome.IntegrityFailure)
}

func TestAttemptSendsResumeHeaders(t *testing.T) {
	var gotRange, gotIfMatch, gotAgent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotIfMatch = r.Header.Get("If-Match")
		gotAgent = r.Header.Get("User-Agent")

		w.Header().Set("Content-Range", "bytes 100-104/105")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("tail!"))
	}))
	defer srv.Close()

	e := NewFetchExecutor("downloadd-test/1.0")
	filePath := filepath.Join(t.TempDir(), "out")

	result := e.Attempt(context.Background(), srv.URL+"/file", filePath, Plan{RangeStart: 100, IfMatch: `"v1"`}, func(int64) {})

	assert.Equal(t, "bytes=100-", gotRange)
	assert.Equal(t, `"v1"`, gotIfMatch)
	assert.Equal(t, "downloadd-test/1.0", gotAgent)
	assert.Equal(t, OutcomeSuccess, result.Outcome.Kind)
	assert.Equal(t, int64(5), result.Outcome.BytesThisAttempt)
	assert.Equal(t, int64(105), result.TotalBytes)
}

func TestAttemptRangeMismatchIsIntegrityFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server restarts the range from zero instead of where we asked.
		w.Header().Set("Content-Range", "bytes 0-10/11")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	e := NewFetchExecutor("test")

	result := e.Attempt(context.Background(), srv.URL+"/file", filepath.Join(t.TempDir(), "out"), Plan{RangeStart: 5, IfMatch: `"v1"`}, func(int64) {})

	assert.Equal(t, OutcomeInterrupted, result.Outcome.Kind)
	assert.True(t, result.Outcome.IntegrityFailure)
}

func TestAttemptDoesNotFollowRedirects(t *testing.T) {
	var otherPathHit bool

	mux := http.NewServeMux()
	mux.HandleFunc("/path", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/other_path", http.StatusFound)
	})
	mux.HandleFunc("/other_path", func(w http.ResponseWriter, r *http.Request) {
		otherPathHit = true
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := NewFetchExecutor("test")

	result := e.Attempt(context.Background(), srv.URL+"/path", "unused", Plan{}, func(int64) {})

	assert.Equal(t, OutcomeRedirect, result.Outcome.Kind)
	assert.Equal(t, srv.URL+"/other_path", result.Outcome.Location)
	assert.False(t, otherPathHit)
}
