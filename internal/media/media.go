// Package media holds the domain types shared by search, acquisition and
// delivery, the error taxonomy surfaced to HTTP clients, and the contract of
// the external extraction backend.
package media

import (
	"context"
	"fmt"
)

// SearchResult is one normalized search hit.
type SearchResult struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	URL             string `json:"url"`
	Thumbnail       string `json:"thumbnail,omitempty"`
	Author          string `json:"author"`
	Duration        string `json:"duration,omitempty"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
}

// Thumbnail is one entry of a backend's thumbnail list. Backends list
// thumbnails lowest resolution first.
type Thumbnail struct {
	URL    string
	Width  int
	Height int
}

// RawEntry is a search record as the backend reports it. Every field except
// ID is optional.
type RawEntry struct {
	ID             string
	Title          string
	URL            string
	WebpageURL     string
	Thumbnails     []Thumbnail
	Uploader       string
	Duration       *int
	DurationString string
}

// DownloadRequest is what a client asks the orchestrator for.
type DownloadRequest struct {
	MediaRef string
	Format   Format
}

// AcquireRequest is the orchestrator's instruction to the backend.
type AcquireRequest struct {
	MediaRef string
	Selector StreamSelector
	// Transcode is nil unless the backend must convert after fetching.
	Transcode *Transcode
	// OutputTemplate is an absolute path with %(title)s, %(id)s and %(ext)s placeholders.
	OutputTemplate string
}

// Backend is the video resolution/extraction collaborator.
type Backend interface {
	// Resolve looks up a free-text query or a media URL and returns at most
	// limit entries in relevance order. Entries may be nil.
	Resolve(ctx context.Context, queryOrURL string, limit int) ([]*RawEntry, error)
	// Acquire fetches (and transcodes when asked) the media into
	// OutputTemplate and returns the path the backend produced before any
	// transcoding changed the extension.
	Acquire(ctx context.Context, req AcquireRequest) (string, error)
}

// BackendFunc adapts a pair of functions to Backend.
type BackendFunc struct {
	ResolveFunc func(ctx context.Context, queryOrURL string, limit int) ([]*RawEntry, error)
	AcquireFunc func(ctx context.Context, req AcquireRequest) (string, error)
}

func (b BackendFunc) Resolve(ctx context.Context, queryOrURL string, limit int) ([]*RawEntry, error) {
	if b.ResolveFunc == nil {
		return nil, fmt.Errorf("resolve is not supported")
	}

	return b.ResolveFunc(ctx, queryOrURL, limit)
}

func (b BackendFunc) Acquire(ctx context.Context, req AcquireRequest) (string, error) {
	if b.AcquireFunc == nil {
		return "", fmt.Errorf("acquire is not supported")
	}

	return b.AcquireFunc(ctx, req)
}
