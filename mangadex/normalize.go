package mangadex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/robertmeta/manga-cli/apperr"
	"github.com/robertmeta/manga-cli/model"
	"golang.org/x/text/unicode/norm"
)

// Name is the provider tag stamped on every normalized record.
const Name = "mangadex"

// CoverLookup resolves a cover file name for a manga id when the record
// itself carries none. An empty name means the manga has no cover.
type CoverLookup func(ctx context.Context, mangaID string) (string, error)

// Normalizer converts raw catalog records into model entities.
type Normalizer struct {
	uploadsURL  string
	locales     []string
	lookupCover CoverLookup
	logger      *slog.Logger
}

// NewNormalizer creates a Normalizer. locales is the title and description
// priority list; lookup may be nil to disable the secondary cover query.
func NewNormalizer(uploadsURL string, locales []string, lookup CoverLookup, logger *slog.Logger) *Normalizer {
	if len(locales) == 0 {
		locales = []string{"en"}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Normalizer{
		uploadsURL:  strings.TrimRight(uploadsURL, "/"),
		locales:     locales,
		lookupCover: lookup,
		logger:      logger,
	}
}

// Normalize converts one manga record. When resolveCover is set the cover
// URL is taken from the embedded cover_art relationship, falling back to a
// secondary lookup. A missing cover is not an error.
func (n *Normalizer) Normalize(ctx context.Context, raw json.RawMessage, resolveCover bool) (model.Manga, error) {
	var record mangaRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return model.Manga{}, apperr.Decode("manga record", err)
	}
	if record.Attributes == nil {
		return model.Manga{}, apperr.Decode("manga record "+record.ID, errors.New("missing attributes"))
	}
	attrs := record.Attributes

	manga := model.Manga{
		Provider:    Name,
		ID:          record.ID,
		Title:       n.resolve(attrs.Title),
		Description: n.resolve(attrs.Description),
		Tags:        make([]string, 0, len(attrs.Tags)),
		Year:        attrs.Year,
		Status:      attrs.Status,
	}
	if err := manga.Validate(); err != nil {
		return model.Manga{}, apperr.Decode("manga record", err)
	}

	for _, tag := range attrs.Tags {
		manga.Tags = append(manga.Tags, n.resolvePreferred(tag.Attributes.Name))
	}

	if resolveCover {
		if fileName := n.coverFileName(ctx, &record); fileName != "" {
			coverURL := n.CoverURL(record.ID, fileName)
			manga.CoverURL = &coverURL
		}
	}

	return manga, nil
}

// CoverURL builds the uploads URL of a cover file.
func (n *Normalizer) CoverURL(mangaID, fileName string) string {
	return fmt.Sprintf("%s/covers/%s/%s", n.uploadsURL, mangaID, fileName)
}

func (n *Normalizer) coverFileName(ctx context.Context, record *mangaRecord) string {
	for _, rel := range record.Relationships {
		if rel.Type != "cover_art" {
			continue
		}
		if rel.Attributes != nil && rel.Attributes.FileName != "" {
			return rel.Attributes.FileName
		}
	}

	if n.lookupCover == nil {
		return ""
	}

	fileName, err := n.lookupCover(ctx, record.ID)
	if err != nil {
		n.logger.Warn("cover lookup failed",
			slog.String("manga_id", record.ID),
			slog.Any("error", err),
		)
		return ""
	}
	return fileName
}

// resolve picks a value by locale priority, then the smallest locale key
// holding a non-empty value.
func (n *Normalizer) resolve(values localized) string {
	if v := n.resolvePreferred(values); v != "" {
		return v
	}

	keys := make([]string, 0, len(values))
	for locale, v := range values {
		if v != "" {
			keys = append(keys, locale)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return norm.NFC.String(values[keys[0]])
}

// resolvePreferred only considers the configured locales.
func (n *Normalizer) resolvePreferred(values localized) string {
	for _, locale := range n.locales {
		if v := values[locale]; v != "" {
			return norm.NFC.String(v)
		}
	}
	return ""
}
