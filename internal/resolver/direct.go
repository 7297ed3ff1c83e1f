package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"hdget/internal/domain"
)

// Direct resolves identifiers that are already plain media URLs. It probes
// the server for size and range support instead of consulting a catalog, so
// the requested quality is accepted but cannot influence the result.
type Direct struct {
	client *http.Client
}

func NewDirect(client *http.Client) *Direct {
	if client == nil {
		client = http.DefaultClient
	}
	return &Direct{client: client}
}

func (d *Direct) Resolve(ctx context.Context, identifier, quality string, audioOnly bool) ([]domain.Locator, error) {
	loc, err := d.probe(ctx, identifier)
	if err != nil {
		return nil, &domain.ResolveError{Identifier: identifier, Err: err}
	}
	if audioOnly {
		loc.Kind = domain.MediaKindAudio
	}
	return []domain.Locator{loc}, nil
}

func (d *Direct) ListFormats(ctx context.Context, identifier string) ([]Format, error) {
	loc, err := d.probe(ctx, identifier)
	if err != nil {
		return nil, &domain.ResolveError{Identifier: identifier, Err: err}
	}
	return []Format{{
		ID:        "direct",
		Kind:      loc.Kind,
		Container: loc.Container,
		Quality:   "source",
		Size:      loc.TotalSize,
	}}, nil
}

// probe asks the server about the resource via HEAD, falling back to a
// one-byte ranged GET for servers that refuse HEAD.
func (d *Direct) probe(ctx context.Context, rawURL string) (domain.Locator, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return domain.Locator{}, fmt.Errorf("not a fetchable URL: %s", rawURL)
	}

	loc := domain.Locator{
		URL:       rawURL,
		TotalSize: domain.SizeUnknown,
		Kind:      domain.MediaKindMuxed,
		Container: containerFromPath(parsed.Path),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return domain.Locator{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return domain.Locator{}, err
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if resp.ContentLength >= 0 {
			loc.TotalSize = resp.ContentLength
		}
		loc.SupportsRanges = strings.Contains(resp.Header.Get("Accept-Ranges"), "bytes")
		return loc, nil
	}
	if resp.StatusCode != http.StatusMethodNotAllowed && resp.StatusCode != http.StatusNotImplemented {
		return domain.Locator{}, fmt.Errorf("probe failed: %s", resp.Status)
	}

	// HEAD refused; issue a minimal ranged GET instead.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.Locator{}, err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err = d.client.Do(req)
	if err != nil {
		return domain.Locator{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		loc.SupportsRanges = true
		if total, ok := totalFromContentRange(resp.Header.Get("Content-Range")); ok {
			loc.TotalSize = total
		}
	case http.StatusOK:
		if resp.ContentLength >= 0 {
			loc.TotalSize = resp.ContentLength
		}
	default:
		return domain.Locator{}, fmt.Errorf("probe failed: %s", resp.Status)
	}
	return loc, nil
}

// totalFromContentRange extracts the total length from a header shaped like
// "bytes 0-0/12345".
func totalFromContentRange(header string) (int64, bool) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return 0, false
	}
	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}

func containerFromPath(p string) string {
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" {
		return "mp4"
	}
	return strings.ToLower(ext)
}

var _ Resolver = (*Direct)(nil)
