package resolver

import (
	"context"

	"hdget/internal/domain"
)

// Format describes one quality/format option a resolver can enumerate.
type Format struct {
	ID        string
	Kind      domain.MediaKind
	Container string
	Quality   string
	Size      int64 // domain.SizeUnknown when not reported
}

// Resolver turns a video identifier plus a requested quality into fetchable
// locators. Implementations are external collaborators of the download
// engine: the engine never discovers or ranks qualities itself.
type Resolver interface {
	// Resolve returns the locators to download for one identifier. For
	// audioOnly requests a single audio (or muxed) locator is returned;
	// otherwise either a single muxed locator or a video+audio pair whose
	// streams must be muxed after download.
	Resolve(ctx context.Context, identifier, quality string, audioOnly bool) ([]domain.Locator, error)

	// ListFormats enumerates the quality/format options for an identifier.
	ListFormats(ctx context.Context, identifier string) ([]Format, error)
}
