package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"hdget/internal/domain"
)

func TestDirect_ResolveWithHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "1048576")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	locs, err := NewDirect(srv.Client()).Resolve(context.Background(), srv.URL+"/clip.mp4", "best", false)
	require.NoError(t, err)
	require.Len(t, locs, 1)

	loc := locs[0]
	require.Equal(t, int64(1048576), loc.TotalSize)
	require.True(t, loc.SupportsRanges)
	require.Equal(t, domain.MediaKindMuxed, loc.Kind)
	require.Equal(t, "mp4", loc.Container)
}

func TestDirect_ResolveFallsBackToRangedGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		require.Equal(t, "bytes=0-0", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 0-0/2048")
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, "x")
	}))
	defer srv.Close()

	locs, err := NewDirect(srv.Client()).Resolve(context.Background(), srv.URL+"/clip.webm", "1080p", false)
	require.NoError(t, err)
	require.Equal(t, int64(2048), locs[0].TotalSize)
	require.True(t, locs[0].SupportsRanges)
	require.Equal(t, "webm", locs[0].Container)
}

func TestDirect_ResolveAudioOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	locs, err := NewDirect(srv.Client()).Resolve(context.Background(), srv.URL+"/track.m4a", "best", true)
	require.NoError(t, err)
	require.Equal(t, domain.MediaKindAudio, locs[0].Kind)
}

func TestDirect_ResolveErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	for _, identifier := range []string{"not a url", srv.URL + "/gone.mp4"} {
		_, err := NewDirect(srv.Client()).Resolve(context.Background(), identifier, "best", false)
		require.Error(t, err)

		var resolveErr *domain.ResolveError
		require.True(t, errors.As(err, &resolveErr), "error is %T", err)
		require.Equal(t, identifier, resolveErr.Identifier)
	}
}

func TestDirect_ListFormats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "512")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	formats, err := NewDirect(srv.Client()).ListFormats(context.Background(), srv.URL+"/clip.mkv")
	require.NoError(t, err)
	require.Len(t, formats, 1)
	require.Equal(t, "mkv", formats[0].Container)
	require.Equal(t, int64(512), formats[0].Size)
}
