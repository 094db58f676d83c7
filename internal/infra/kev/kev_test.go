package kev

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const catalogJSON = `{
  "title": "CISA Catalog of Known Exploited Vulnerabilities",
  "catalogVersion": "2025.08.28",
  "count": 2,
  "vulnerabilities": [
    {"cveID": "CVE-2023-46805"},
    {"cveID": "CVE-2024-21887"}
  ]
}`

func TestKnownExploitedLookup(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(catalogJSON))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Hour)
	ctx := context.Background()

	known, err := c.KnownExploited(ctx, "CVE-2023-46805")
	require.NoError(t, err)
	require.True(t, known)

	known, err = c.KnownExploited(ctx, "CVE-2000-0001")
	require.NoError(t, err)
	require.False(t, known)

	require.Equal(t, int32(1), hits.Load(), "a fresh catalog must not be refetched per lookup")
}

func TestKnownExploitedNonCVENeverFetches(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("non-CVE lookups must not hit the catalog")
	}))
	defer srv.Close()

	c := New(srv.URL, time.Hour)
	known, err := c.KnownExploited(context.Background(), "zap-40018")
	require.NoError(t, err)
	require.False(t, known)
}

func TestKnownExploitedServesStaleOnRefreshFailure(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(catalogJSON))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Millisecond)
	ctx := context.Background()

	known, err := c.KnownExploited(ctx, "CVE-2024-21887")
	require.NoError(t, err)
	require.True(t, known)

	fail.Store(true)
	time.Sleep(5 * time.Millisecond) // let the TTL lapse

	known, err = c.KnownExploited(ctx, "CVE-2024-21887")
	require.NoError(t, err, "a failed refresh must fall back to the stale catalog")
	require.True(t, known)
}

func TestKnownExploitedErrorsWithoutAnyCatalog(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Hour)
	_, err := c.KnownExploited(context.Background(), "CVE-2024-21887")
	require.ErrorContains(t, err, "unexpected status code 500")
}
