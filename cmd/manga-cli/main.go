package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robertmeta/manga-cli/apperr"
	"github.com/robertmeta/manga-cli/cache"
	"github.com/robertmeta/manga-cli/catalog"
	"github.com/robertmeta/manga-cli/config"
	"github.com/robertmeta/manga-cli/provider"
	"github.com/robertmeta/manga-cli/store"
	"github.com/urfave/cli/v2"
)

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitDataError    = 3
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes one invocation and returns its exit code. Exactly one JSON
// value is written to stdout: the result or the error payload.
func run(args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	if err := app.Run(args); err != nil {
		if encodeErr := outputJSON(stdout, apperr.Payload(err)); encodeErr != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return exitCode(err)
	}
	return ExitSuccess
}

// session holds what the global flags resolve to.
type session struct {
	stderr io.Writer
	cfg    *config.Config
	logger *slog.Logger
	cache  *cache.Cache
	ledger *store.Store
}

func newApp(stdout, stderr io.Writer) *cli.App {
	s := &session{stderr: stderr}

	app := &cli.App{
		Name:      "manga-cli",
		Usage:     "Browse a manga catalog and cache its images locally",
		Version:   "0.1.0",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Value:   config.DefaultEnvFile(),
				Usage:   "Env file with MANGA_CLI_* settings (ignored if missing)",
				EnvVars: []string{"MANGA_CLI_ENV_FILE"},
			},
			&cli.StringFlag{
				Name:  "cache-dir",
				Usage: "Asset cache root",
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Catalog provider",
			},
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "Catalog API base URL",
			},
			&cli.StringFlag{
				Name:  "uploads-url",
				Usage: "Cover image base URL",
			},
			&cli.StringFlag{
				Name:  "user-agent",
				Usage: "User-Agent sent with every request",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-request timeout",
			},
			&cli.StringFlag{
				Name:  "proxy",
				Usage: "SOCKS5 proxy address (host:port)",
			},
			&cli.StringSliceFlag{
				Name:  "locale",
				Usage: "Locale priority for titles and descriptions (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "no-ledger",
				Usage: "Do not record cached assets in the ledger",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log requests and cache decisions to stderr",
			},
		},
		Before:       s.before,
		After:        s.after,
		Action:       unknownCommand,
		OnUsageError: usageError,
		Commands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "Search manga by title",
				ArgsUsage: "<query>",
				Flags:     listFlags(),
				Action:    s.search,
			},
			{
				Name:   "popular",
				Usage:  "List manga by follower count",
				Flags:  listFlags(),
				Action: s.popular,
			},
			{
				Name:      "show",
				Usage:     "Show manga details",
				ArgsUsage: "<manga-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-covers",
						Usage: "Do not download a missing cover",
					},
				},
				Action: s.show,
			},
			{
				Name:      "chapters",
				Usage:     "List chapters of a manga",
				ArgsUsage: "<manga-id>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "language",
						Aliases: []string{"l"},
						Usage:   "Translated language to include (repeatable)",
					},
				},
				Action: s.chapters,
			},
			{
				Name:      "pages",
				Usage:     "List page URLs of a chapter",
				ArgsUsage: "<chapter-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "data-saver",
						Usage: "Use compressed page images",
					},
				},
				Action: s.pages,
			},
			{
				Name:      "page",
				Usage:     "Download a page into the cache",
				ArgsUsage: "<url>",
				Action:    s.page,
			},
			{
				Name:      "cover",
				Usage:     "Ensure a manga cover is cached",
				ArgsUsage: "<manga-id>",
				Action:    s.cover,
			},
			{
				Name:  "cleanup",
				Usage: "Evict the oldest cached files",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "kind",
						Aliases: []string{"k"},
						Value:   string(cache.KindCovers),
						Usage:   "Cache kind (covers or pages)",
					},
					&cli.IntFlag{
						Name:  "keep",
						Value: 100,
						Usage: "Number of most recent files to keep",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Remove every cached file of the kind",
					},
				},
				Action: s.cleanup,
			},
			{
				Name:  "assets",
				Usage: "List cached assets recorded in the ledger",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "kind",
						Aliases: []string{"k"},
						Usage:   "Filter by cache kind (covers or pages)",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Value:   50,
						Usage:   "Maximum number of assets to return",
					},
					&cli.IntFlag{
						Name:    "offset",
						Aliases: []string{"o"},
						Value:   0,
						Usage:   "Offset for pagination",
					},
					&cli.StringFlag{
						Name:    "since",
						Aliases: []string{"s"},
						Usage:   "Show assets stored since duration (e.g., 7d, 2w, 3m, 1y)",
					},
				},
				Action: s.assets,
			},
		},
	}

	for _, cmd := range app.Commands {
		cmd.OnUsageError = usageError
	}

	return app
}

func listFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"l"},
			Value:   20,
			Usage:   "Maximum number of results",
		},
		&cli.IntFlag{
			Name:    "offset",
			Aliases: []string{"o"},
			Value:   0,
			Usage:   "Offset for pagination",
		},
		&cli.BoolFlag{
			Name:  "no-covers",
			Usage: "Do not download missing covers",
		},
	}
}

func usageError(_ *cli.Context, err error, _ bool) error {
	return apperr.Usage(err.Error())
}

// unknownCommand runs when no subcommand matched, so the failure is still
// reported as a JSON payload.
func unknownCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return apperr.Usage("no command given (see manga-cli help)")
	}
	return apperr.Usage(fmt.Sprintf("unknown command %q (see manga-cli help)", c.Args().First()))
}

func (s *session) before(c *cli.Context) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return apperr.Usage(err.Error())
	}

	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return apperr.Usage(err.Error())
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	s.logger = slog.New(slog.NewTextHandler(s.stderr, &slog.HandlerOptions{Level: level}))
	s.cfg = cfg
	return nil
}

func (s *session) after(_ *cli.Context) error {
	if err := s.ledger.Close(); err != nil && s.logger != nil {
		s.logger.Warn("closing ledger failed", slog.Any("error", err))
	}
	return nil
}

// applyFlags overrides config values with explicitly set global flags.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("cache-dir") {
		// A ledger path derived from the old cache root follows the new one.
		if cfg.LedgerPath == filepath.Join(cfg.CacheDir, "ledger.db") {
			cfg.LedgerPath = ""
		}
		cfg.CacheDir = c.String("cache-dir")
	}
	if c.IsSet("provider") {
		cfg.Provider = c.String("provider")
	}
	if c.IsSet("api-url") {
		cfg.APIURL = c.String("api-url")
	}
	if c.IsSet("uploads-url") {
		cfg.UploadsURL = c.String("uploads-url")
	}
	if c.IsSet("user-agent") {
		cfg.UserAgent = c.String("user-agent")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if c.IsSet("proxy") {
		cfg.Proxy = c.String("proxy")
	}
	if c.IsSet("locale") {
		cfg.Locales = c.StringSlice("locale")
	}
	if c.IsSet("no-ledger") {
		cfg.NoLedger = c.Bool("no-ledger")
	}
	if c.IsSet("verbose") {
		cfg.Verbose = c.Bool("verbose")
	}
	cfg.ApplyDefaults()
}

// openCache initializes the provider's cache directories once.
func (s *session) openCache() (*cache.Cache, error) {
	if s.cache != nil {
		return s.cache, nil
	}
	assets := cache.New(s.cfg.ProviderCacheDir())
	if err := assets.Init(); err != nil {
		return nil, err
	}
	s.cache = assets
	return assets, nil
}

// openLedger opens the ledger, or returns nil when it is disabled or
// unavailable. Callers that only record into it treat nil as a no-op.
func (s *session) openLedger() (*store.Store, error) {
	if s.cfg.NoLedger {
		return nil, nil
	}
	if s.ledger != nil {
		return s.ledger, nil
	}
	ledger, err := store.New(s.cfg.LedgerPath)
	if err != nil {
		return nil, apperr.Cache("unable to open ledger "+s.cfg.LedgerPath, err)
	}
	s.ledger = ledger
	return ledger, nil
}

type providerOptions struct {
	// assets is set by commands that read or write the cache, which also
	// record into the ledger.
	assets         bool
	downloadCovers bool
	dataSaver      bool
	languages      []string
}

func (s *session) provider(opts providerOptions) (provider.Provider, error) {
	tag, err := provider.ParseTag(s.cfg.Provider)
	if err != nil {
		return nil, err
	}

	assets := cache.New(s.cfg.ProviderCacheDir())
	if opts.assets {
		if assets, err = s.openCache(); err != nil {
			return nil, err
		}
	}

	client, err := catalog.New(catalog.Options{
		BaseURL:   s.cfg.APIURL,
		UserAgent: s.cfg.UserAgent,
		Timeout:   s.cfg.Timeout,
		ProxyAddr: s.cfg.Proxy,
		RateLimit: s.cfg.RateLimit,
		RateBurst: s.cfg.RateBurst,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, apperr.Usage(err.Error())
	}

	languages := opts.languages
	if len(languages) == 0 {
		languages = s.cfg.Languages
	}

	deps := provider.Deps{
		Catalog:        client,
		Cache:          assets,
		UploadsURL:     s.cfg.UploadsURL,
		Locales:        s.cfg.Locales,
		Languages:      languages,
		DownloadCovers: opts.downloadCovers,
		DataSaver:      opts.dataSaver,
		Logger:         s.logger,
	}

	// Ledger writes are best-effort, so an unusable ledger only warns.
	if opts.assets {
		ledger, err := s.openLedger()
		if err != nil {
			s.logger.Warn("ledger disabled", slog.Any("error", err))
		} else if ledger != nil {
			deps.Ledger = ledger
		}
	}

	return provider.New(tag, deps)
}

func outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeUsage:
		return ExitUsageError
	case apperr.CodeTransport, apperr.CodeHTTP, apperr.CodeDecode,
		apperr.CodeNotFound, apperr.CodeDownload, apperr.CodeCache:
		return ExitDataError
	default:
		return ExitGeneralError
	}
}

func requireArg(c *cli.Context, usage string) (string, error) {
	if c.NArg() < 1 || strings.TrimSpace(c.Args().First()) == "" {
		return "", apperr.Usage("usage: manga-cli " + usage)
	}
	return c.Args().First(), nil
}

func pagination(c *cli.Context) (int, int, error) {
	limit, offset := c.Int("limit"), c.Int("offset")
	if limit < 1 || offset < 0 {
		return 0, 0, apperr.Usage("limit must be positive and offset must not be negative")
	}
	return limit, offset, nil
}

func (s *session) search(c *cli.Context) error {
	if c.NArg() < 1 {
		return apperr.Usage("usage: manga-cli search <query>")
	}
	query := strings.Join(c.Args().Slice(), " ")

	limit, offset, err := pagination(c)
	if err != nil {
		return err
	}

	p, err := s.provider(providerOptions{assets: true, downloadCovers: !c.Bool("no-covers")})
	if err != nil {
		return err
	}

	results, err := p.Search(c.Context, query, limit, offset)
	if err != nil {
		return err
	}
	return outputJSON(c.App.Writer, results)
}

func (s *session) popular(c *cli.Context) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return err
	}

	p, err := s.provider(providerOptions{assets: true, downloadCovers: !c.Bool("no-covers")})
	if err != nil {
		return err
	}

	results, err := p.Popular(c.Context, limit, offset)
	if err != nil {
		return err
	}
	return outputJSON(c.App.Writer, results)
}

func (s *session) show(c *cli.Context) error {
	id, err := requireArg(c, "show <manga-id>")
	if err != nil {
		return err
	}

	p, err := s.provider(providerOptions{assets: true, downloadCovers: !c.Bool("no-covers")})
	if err != nil {
		return err
	}

	manga, err := p.GetByID(c.Context, id)
	if err != nil {
		return err
	}
	return outputJSON(c.App.Writer, manga)
}

func (s *session) chapters(c *cli.Context) error {
	id, err := requireArg(c, "chapters <manga-id>")
	if err != nil {
		return err
	}

	p, err := s.provider(providerOptions{languages: c.StringSlice("language")})
	if err != nil {
		return err
	}

	chapters, err := p.GetChapters(c.Context, id)
	if err != nil {
		return err
	}
	return outputJSON(c.App.Writer, chapters)
}

func (s *session) pages(c *cli.Context) error {
	id, err := requireArg(c, "pages <chapter-id>")
	if err != nil {
		return err
	}

	p, err := s.provider(providerOptions{dataSaver: c.Bool("data-saver")})
	if err != nil {
		return err
	}

	pages, err := p.GetPages(c.Context, id)
	if err != nil {
		return err
	}
	return outputJSON(c.App.Writer, pages)
}

func (s *session) page(c *cli.Context) error {
	pageURL, err := requireArg(c, "page <url>")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(pageURL, "http") {
		return apperr.Usage("page URL must start with http")
	}

	p, err := s.provider(providerOptions{assets: true})
	if err != nil {
		return err
	}

	page, err := p.GetPage(c.Context, pageURL)
	if err != nil {
		return err
	}
	return outputJSON(c.App.Writer, page)
}

func (s *session) cover(c *cli.Context) error {
	id, err := requireArg(c, "cover <manga-id>")
	if err != nil {
		return err
	}

	p, err := s.provider(providerOptions{assets: true, downloadCovers: true})
	if err != nil {
		return err
	}

	path, err := p.EnsureCover(c.Context, id)
	if err != nil {
		return err
	}
	return outputJSON(c.App.Writer, map[string]interface{}{
		"id":         id,
		"cover_path": path,
	})
}

func (s *session) cleanup(c *cli.Context) error {
	kind, err := cache.ParseKind(c.String("kind"))
	if err != nil {
		return err
	}

	keep := s.cfg.KeepCovers
	if c.IsSet("keep") || kind != cache.KindCovers {
		keep = c.Int("keep")
	}

	p, err := s.provider(providerOptions{assets: true})
	if err != nil {
		return err
	}

	var removed []string
	if c.Bool("all") {
		removed, err = p.Purge(kind)
	} else {
		removed, err = p.Cleanup(kind, keep)
	}
	if err != nil {
		return err
	}

	remaining, err := s.cache.Entries(kind)
	if err != nil {
		return err
	}

	return outputJSON(c.App.Writer, map[string]interface{}{
		"kind":    kind,
		"kept":    len(remaining),
		"removed": len(removed),
	})
}

func (s *session) assets(c *cli.Context) error {
	kind := c.String("kind")
	if kind != "" {
		if _, err := cache.ParseKind(kind); err != nil {
			return err
		}
	}

	opts, err := store.BuildQueryOptions(kind, c.Int("limit"), c.Int("offset"), c.String("since"), time.Now())
	if err != nil {
		return apperr.Usage(fmt.Sprintf("invalid query options: %v", err))
	}
	opts.Provider = s.cfg.Provider

	if s.cfg.NoLedger {
		return apperr.Usage("the asset ledger is disabled")
	}
	ledger, err := s.openLedger()
	if err != nil {
		return err
	}

	assets, err := ledger.ListAssets(opts)
	if err != nil {
		return apperr.Cache("failed to list assets", err)
	}
	total, err := ledger.CountAssets(opts)
	if err != nil {
		return apperr.Cache("failed to count assets", err)
	}

	return outputJSON(c.App.Writer, map[string]interface{}{
		"count":   len(assets),
		"total":   total,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
		"entries": assets,
	})
}
