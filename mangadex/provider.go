// Package mangadex implements the manga provider for the MangaDex catalog.
//
// It composes a catalog client, the Normalizer and the asset cache: records
// are fetched as JSON, normalized into model entities, and their cover and
// page images are resolved through the cache before anything is downloaded.
package mangadex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/robertmeta/manga-cli/apperr"
	"github.com/robertmeta/manga-cli/cache"
	"github.com/robertmeta/manga-cli/model"
)

// DefaultUploadsURL hosts cover images.
const DefaultUploadsURL = "https://uploads.mangadex.org"

// chapterPageSize is the largest feed page the API serves.
const chapterPageSize = 100

// Catalog is the transport the provider needs. *catalog.Client satisfies it.
type Catalog interface {
	Get(ctx context.Context, endpoint string, params url.Values, out any) error
	FetchBytes(ctx context.Context, rawURL string) ([]byte, error)
}

// AssetRecorder receives cache writes and evictions. *store.Store satisfies
// it. Failures are logged and never fail the request.
type AssetRecorder interface {
	RecordAsset(a *model.Asset) error
	DeleteAssetsByPath(paths []string) (int64, error)
}

// Options configures a Provider.
type Options struct {
	UploadsURL string
	// Locales is the title and description priority list.
	Locales []string
	// Languages filters the chapter feed by translated language.
	Languages []string
	// DownloadCovers fetches missing covers during search, popular and show.
	DownloadCovers bool
	// DataSaver serves compressed page images.
	DataSaver bool
	// Ledger may be nil.
	Ledger AssetRecorder
	Logger *slog.Logger
}

// Provider is the MangaDex implementation of the provider contract.
type Provider struct {
	catalog        Catalog
	cache          *cache.Cache
	ledger         AssetRecorder
	normalizer     *Normalizer
	languages      []string
	downloadCovers bool
	dataSaver      bool
	logger         *slog.Logger
}

// New creates a Provider.
func New(client Catalog, assets *cache.Cache, opts Options) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	uploadsURL := opts.UploadsURL
	if uploadsURL == "" {
		uploadsURL = DefaultUploadsURL
	}

	languages := opts.Languages
	if len(languages) == 0 {
		languages = []string{"en"}
	}

	p := &Provider{
		catalog:        client,
		cache:          assets,
		ledger:         opts.Ledger,
		languages:      languages,
		downloadCovers: opts.DownloadCovers,
		dataSaver:      opts.DataSaver,
		logger:         logger,
	}
	p.normalizer = NewNormalizer(uploadsURL, opts.Locales, p.lookupCoverFileName, logger)
	return p
}

// Name returns the provider tag.
func (p *Provider) Name() string {
	return Name
}

// Search lists manga whose title matches query.
func (p *Provider) Search(ctx context.Context, query string, limit, offset int) ([]model.Manga, error) {
	params := listParams(limit, offset)
	params.Set("title", query)
	return p.listManga(ctx, params)
}

// Popular lists manga ordered by follower count.
func (p *Provider) Popular(ctx context.Context, limit, offset int) ([]model.Manga, error) {
	params := listParams(limit, offset)
	params.Set("order[followedCount]", "desc")
	return p.listManga(ctx, params)
}

// GetByID fetches a single manga.
func (p *Provider) GetByID(ctx context.Context, id string) (model.Manga, error) {
	return p.getByID(ctx, id, p.downloadCovers)
}

// GetChapters lists every chapter of a manga in the configured languages,
// following the feed's pagination. Remote order is kept.
func (p *Provider) GetChapters(ctx context.Context, mangaID string) ([]model.Chapter, error) {
	if err := validateID("manga", mangaID); err != nil {
		return nil, err
	}

	chapters := []model.Chapter{}
	offset := 0
	for {
		params := url.Values{}
		for _, language := range p.languages {
			params.Add("translatedLanguage[]", language)
		}
		params.Set("limit", strconv.Itoa(chapterPageSize))
		params.Set("offset", strconv.Itoa(offset))

		var feed chapterFeedResponse
		if err := p.catalog.Get(ctx, "/manga/"+mangaID+"/feed", params, &feed); err != nil {
			return nil, notFoundOn404(err, "manga", mangaID)
		}

		for _, record := range feed.Data {
			chapters = append(chapters, toChapter(record))
		}

		offset += len(feed.Data)
		if len(feed.Data) == 0 || offset >= feed.Total {
			break
		}
	}

	return chapters, nil
}

// GetPages expands a chapter into absolute page URLs in reading order.
func (p *Provider) GetPages(ctx context.Context, chapterID string) ([]model.Page, error) {
	if err := validateID("chapter", chapterID); err != nil {
		return nil, err
	}

	var server atHomeResponse
	if err := p.catalog.Get(ctx, "/at-home/server/"+chapterID, nil, &server); err != nil {
		return nil, notFoundOn404(err, "chapter", chapterID)
	}
	if server.BaseURL == "" || server.Chapter.Hash == "" {
		return nil, apperr.Decode("page server response for "+chapterID, fmt.Errorf("missing baseUrl or hash"))
	}

	segment, files := "data", server.Chapter.Data
	if (p.dataSaver && len(server.Chapter.DataSaver) > 0) || len(files) == 0 {
		segment, files = "data-saver", server.Chapter.DataSaver
	}

	base := strings.TrimRight(server.BaseURL, "/")
	pages := make([]model.Page, 0, len(files))
	for _, file := range files {
		pages = append(pages, model.Page{
			URL: fmt.Sprintf("%s/%s/%s/%s", base, segment, server.Chapter.Hash, file),
		})
	}
	return pages, nil
}

// GetPage resolves a page URL to a local file, downloading it on a cache
// miss. A cached file that no longer decodes is replaced.
func (p *Provider) GetPage(ctx context.Context, pageURL string) (model.Page, error) {
	page := model.Page{URL: pageURL}

	if path, ok := p.cache.LookupPage(pageURL); ok {
		width, height, err := cache.ProbeDimensions(path)
		if err == nil {
			page.SetFile(path, width, height)
			return page, nil
		}
		p.logger.Warn("discarding unreadable cached page",
			slog.String("path", path),
			slog.Any("error", err),
		)
		if err := p.cache.Remove(path); err != nil {
			return page, apperr.Download(pageURL, err)
		}
	}

	data, err := p.catalog.FetchBytes(ctx, pageURL)
	if err != nil {
		return page, apperr.Download(pageURL, err)
	}
	width, height, _, err := cache.ProbeBytes(data)
	if err != nil {
		return page, apperr.Download(pageURL, err)
	}
	path, err := p.cache.StorePage(pageURL, data)
	if err != nil {
		return page, apperr.Download(pageURL, err)
	}

	p.record(cache.KindPages, cache.PageKey(pageURL), path, pageURL, width, height)
	page.SetFile(path, width, height)
	return page, nil
}

// EnsureCover returns the cached cover of a manga, fetching the manga and
// its cover on a miss. An unreadable cached cover counts as a miss. A nil
// path means the manga has no cover.
func (p *Provider) EnsureCover(ctx context.Context, mangaID string) (*string, error) {
	if path, ok := p.cache.LookupCover(mangaID); ok {
		if _, _, err := cache.ProbeDimensions(path); err == nil {
			return &path, nil
		}
	}

	// getByID discards the unreadable file before downloading again.
	manga, err := p.getByID(ctx, mangaID, true)
	if err != nil {
		return nil, err
	}
	if !manga.HasCover() {
		return nil, nil
	}
	return manga.CoverPath, nil
}

// Cleanup keeps the keep most recent entries of kind and returns the paths
// it removed.
func (p *Provider) Cleanup(kind cache.Kind, keep int) ([]string, error) {
	removed, err := p.cache.EvictOldest(kind, keep)
	p.forget(removed)
	return removed, err
}

// Purge removes every entry of kind and returns the removed paths.
func (p *Provider) Purge(kind cache.Kind) ([]string, error) {
	removed, err := p.cache.Purge(kind)
	p.forget(removed)
	return removed, err
}

// forget drops removed files from the ledger.
func (p *Provider) forget(removed []string) {
	if p.ledger == nil || len(removed) == 0 {
		return
	}
	if _, err := p.ledger.DeleteAssetsByPath(removed); err != nil {
		p.logger.Warn("ledger cleanup failed", slog.Any("error", err))
	}
}

func (p *Provider) getByID(ctx context.Context, id string, download bool) (model.Manga, error) {
	if err := validateID("manga", id); err != nil {
		return model.Manga{}, err
	}

	params := url.Values{}
	params.Add("includes[]", "cover_art")

	var response mangaEntityResponse
	if err := p.catalog.Get(ctx, "/manga/"+id, params, &response); err != nil {
		return model.Manga{}, notFoundOn404(err, "manga", id)
	}
	if isEmptyJSON(response.Data) {
		return model.Manga{}, apperr.NotFound("manga", id)
	}

	manga, err := p.normalizer.Normalize(ctx, response.Data, true)
	if err != nil {
		return model.Manga{}, err
	}
	p.attachCover(ctx, &manga, download)
	return manga, nil
}

// listManga normalizes one page of results, skipping records that fail.
func (p *Provider) listManga(ctx context.Context, params url.Values) ([]model.Manga, error) {
	var response mangaListResponse
	if err := p.catalog.Get(ctx, "/manga", params, &response); err != nil {
		return nil, err
	}

	results := make([]model.Manga, 0, len(response.Data))
	for i, raw := range response.Data {
		manga, err := p.normalizer.Normalize(ctx, raw, true)
		if err != nil {
			p.logger.Warn("skipping malformed manga record",
				slog.Int("index", i),
				slog.Any("error", err),
			)
			continue
		}
		p.attachCover(ctx, &manga, p.downloadCovers)
		results = append(results, manga)
	}
	return results, nil
}

// attachCover fills the local cover fields from the cache, downloading the
// cover first when allowed. Every failure leaves the fields unset.
func (p *Provider) attachCover(ctx context.Context, manga *model.Manga, download bool) {
	if path, ok := p.cache.LookupCover(manga.ID); ok {
		width, height, err := cache.ProbeDimensions(path)
		if err == nil {
			manga.SetCover(path, width, height)
			return
		}
		p.logger.Warn("discarding unreadable cached cover",
			slog.String("path", path),
			slog.Any("error", err),
		)
		if err := p.cache.Remove(path); err != nil {
			p.logger.Warn("cover removal failed", slog.Any("error", err))
			return
		}
	}

	if manga.CoverURL == nil || !download {
		return
	}
	coverURL := *manga.CoverURL

	data, err := p.catalog.FetchBytes(ctx, coverURL)
	if err != nil {
		p.logger.Warn("cover download failed",
			slog.String("manga_id", manga.ID),
			slog.Any("error", err),
		)
		return
	}
	width, height, _, err := cache.ProbeBytes(data)
	if err != nil {
		p.logger.Warn("cover is not a readable image",
			slog.String("manga_id", manga.ID),
			slog.Any("error", err),
		)
		return
	}
	path, err := p.cache.StoreCover(manga.ID, data, coverURL)
	if err != nil {
		p.logger.Warn("cover cache write failed",
			slog.String("manga_id", manga.ID),
			slog.Any("error", err),
		)
		return
	}

	p.record(cache.KindCovers, manga.ID, path, coverURL, width, height)
	manga.SetCover(path, width, height)
}

// lookupCoverFileName asks the cover endpoint for a manga's first cover.
func (p *Provider) lookupCoverFileName(ctx context.Context, mangaID string) (string, error) {
	params := url.Values{}
	params.Add("manga[]", mangaID)
	params.Set("limit", "1")

	var covers coverListResponse
	if err := p.catalog.Get(ctx, "/cover", params, &covers); err != nil {
		return "", err
	}
	if len(covers.Data) == 0 {
		return "", nil
	}
	return covers.Data[0].Attributes.FileName, nil
}

func (p *Provider) record(kind cache.Kind, key, path, sourceURL string, width, height int) {
	if p.ledger == nil {
		return
	}
	err := p.ledger.RecordAsset(&model.Asset{
		Provider:  Name,
		Kind:      string(kind),
		Key:       key,
		Path:      path,
		SourceURL: sourceURL,
		Width:     width,
		Height:    height,
	})
	if err != nil {
		p.logger.Warn("ledger write failed",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}

func listParams(limit, offset int) url.Values {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Add("includes[]", "cover_art")
	return params
}

func toChapter(record chapterRecord) model.Chapter {
	attrs := record.Attributes
	chapter := model.Chapter{
		ID:      record.ID,
		Chapter: attrs.Chapter,
		Volume:  attrs.Volume,
		Pages:   attrs.Pages,
	}
	if attrs.Title != nil {
		chapter.Title = *attrs.Title
	}
	if attrs.PublishAt != nil && *attrs.PublishAt != "" {
		chapter.PublishDate = attrs.PublishAt
	}
	return chapter
}

func validateID(resource, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.Usage(fmt.Sprintf("invalid %s id %q", resource, id))
	}
	return nil
}

// notFoundOn404 maps a 404 from an entity endpoint to a not-found error.
func notFoundOn404(err error, resource, id string) error {
	if ae, ok := apperr.As(err); ok && ae.Code == apperr.CodeHTTP && ae.Status == http.StatusNotFound {
		return apperr.NotFound(resource, id)
	}
	return err
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null" || trimmed == "{}"
}
