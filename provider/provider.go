// Package provider defines the capability every manga catalog backend
// implements and selects a backend by tag.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robertmeta/manga-cli/apperr"
	"github.com/robertmeta/manga-cli/cache"
	"github.com/robertmeta/manga-cli/mangadex"
	"github.com/robertmeta/manga-cli/model"
)

// Provider browses one remote catalog and resolves its images through the
// local cache.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit, offset int) ([]model.Manga, error)
	Popular(ctx context.Context, limit, offset int) ([]model.Manga, error)
	GetByID(ctx context.Context, id string) (model.Manga, error)
	GetChapters(ctx context.Context, mangaID string) ([]model.Chapter, error)
	GetPages(ctx context.Context, chapterID string) ([]model.Page, error)
	GetPage(ctx context.Context, pageURL string) (model.Page, error)
	EnsureCover(ctx context.Context, mangaID string) (*string, error)
	Cleanup(kind cache.Kind, keep int) ([]string, error)
	Purge(kind cache.Kind) ([]string, error)
}

// Tag identifies a provider implementation.
type Tag string

// MangaDex is the only supported catalog.
const MangaDex Tag = mangadex.Name

// Tags lists every supported provider.
var Tags = []Tag{MangaDex}

var _ Provider = (*mangadex.Provider)(nil)

// ParseTag validates a provider name.
func ParseTag(name string) (Tag, error) {
	for _, tag := range Tags {
		if string(tag) == name {
			return tag, nil
		}
	}
	return "", apperr.Usage(fmt.Sprintf("unknown provider %q", name))
}

// Deps carries what a provider is built from.
type Deps struct {
	Catalog mangadex.Catalog
	Cache   *cache.Cache
	// Ledger may be nil.
	Ledger         mangadex.AssetRecorder
	UploadsURL     string
	Locales        []string
	Languages      []string
	DownloadCovers bool
	DataSaver      bool
	Logger         *slog.Logger
}

// New builds the provider for tag.
func New(tag Tag, deps Deps) (Provider, error) {
	if deps.Catalog == nil || deps.Cache == nil {
		return nil, fmt.Errorf("provider %s: catalog and cache are required", tag)
	}

	switch tag {
	case MangaDex:
		return mangadex.New(deps.Catalog, deps.Cache, mangadex.Options{
			UploadsURL:     deps.UploadsURL,
			Locales:        deps.Locales,
			Languages:      deps.Languages,
			DownloadCovers: deps.DownloadCovers,
			DataSaver:      deps.DataSaver,
			Ledger:         deps.Ledger,
			Logger:         deps.Logger,
		}), nil
	default:
		return nil, apperr.Usage(fmt.Sprintf("unknown provider %q", tag))
	}
}
