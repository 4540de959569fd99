// Package cache provides the on-disk asset cache for covers and pages.
//
// Layout:
//
//	<root>/covers/<manga-id><ext>
//	<root>/pages/<md5(url)><ext>
//
// Lookups probe a fixed extension list; there is no index file. Writes go
// through a temp file and a rename so a reader never sees a partial image.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/robertmeta/manga-cli/apperr"
)

// Kind selects a cache directory.
type Kind string

const (
	KindCovers Kind = "covers"
	KindPages  Kind = "pages"
)

// Kinds lists every cache directory in creation order.
var Kinds = []Kind{KindCovers, KindPages}

// Extensions is the lookup probe order. The first existing file wins.
var Extensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// DefaultExtension is used when a source URL carries no usable suffix.
const DefaultExtension = ".jpg"

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCovers, KindPages:
		return Kind(s), nil
	default:
		return "", apperr.Usage(fmt.Sprintf("unknown cache kind %q (expected covers or pages)", s))
	}
}

// Cache is a filesystem-backed asset store rooted at one directory.
type Cache struct {
	root string
}

// New creates a Cache. It does not touch the filesystem; call Init before
// the first Store.
func New(root string) *Cache {
	return &Cache{root: root}
}

// Init creates the kind directories. It is idempotent.
func (c *Cache) Init() error {
	for _, kind := range Kinds {
		if err := os.MkdirAll(c.Dir(kind), 0o755); err != nil {
			return apperr.Cache("unable to create cache directory", err)
		}
	}
	return nil
}

// Dir returns the directory holding entries of kind.
func (c *Cache) Dir(kind Kind) string {
	return filepath.Join(c.root, string(kind))
}

// PageKey returns the cache key of a page URL.
func PageKey(pageURL string) string {
	sum := md5.Sum([]byte(pageURL))
	return hex.EncodeToString(sum[:])
}

// ExtensionFor infers a file extension from a source URL's path. Unknown or
// missing suffixes fall back to DefaultExtension so every stored file stays
// reachable by Lookup.
func ExtensionFor(sourceURL string) string {
	if sourceURL == "" {
		return DefaultExtension
	}

	p := sourceURL
	if parsed, err := url.Parse(sourceURL); err == nil {
		p = parsed.Path
	}

	ext := strings.ToLower(path.Ext(p))
	for _, candidate := range Extensions {
		if ext == candidate {
			return ext
		}
	}
	return DefaultExtension
}

// Lookup returns the path of the cached entry for key, if any.
func (c *Cache) Lookup(kind Kind, key string) (string, bool) {
	if validateKey(key) != nil {
		return "", false
	}

	dir := c.Dir(kind)
	for _, ext := range Extensions {
		candidate := filepath.Join(dir, key+ext)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// LookupCover returns the cached cover of a manga id.
func (c *Cache) LookupCover(mangaID string) (string, bool) {
	return c.Lookup(KindCovers, mangaID)
}

// LookupPage returns the cached file of a page URL.
func (c *Cache) LookupPage(pageURL string) (string, bool) {
	return c.Lookup(KindPages, PageKey(pageURL))
}

// Store writes data as the entry for key and returns its path. The extension
// comes from sourceURL. On any error no file is left at the final path.
func (c *Cache) Store(kind Kind, key string, data []byte, sourceURL string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", apperr.Cache("refusing to cache empty asset "+key, nil)
	}

	dir := c.Dir(kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Cache("unable to create cache directory", err)
	}

	finalPath := filepath.Join(dir, key+ExtensionFor(sourceURL))

	// Hidden temp name keeps it out of eviction listings.
	tmp, err := os.CreateTemp(dir, "."+key+"-*.tmp")
	if err != nil {
		return "", apperr.Cache("unable to create temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", apperr.Cache("unable to write "+key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", apperr.Cache("unable to sync "+key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", apperr.Cache("unable to close "+key, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return "", apperr.Cache("unable to set permissions on "+key, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", apperr.Cache("unable to move "+key+" into place", err)
	}

	// At most one file per key: drop copies stored under other extensions.
	for _, ext := range Extensions {
		sibling := filepath.Join(dir, key+ext)
		if sibling == finalPath {
			continue
		}
		if err := c.Remove(sibling); err != nil {
			return "", err
		}
	}

	return finalPath, nil
}

// StoreCover stores a manga cover.
func (c *Cache) StoreCover(mangaID string, data []byte, sourceURL string) (string, error) {
	return c.Store(KindCovers, mangaID, data, sourceURL)
}

// StorePage stores a page image keyed by its URL.
func (c *Cache) StorePage(pageURL string, data []byte) (string, error) {
	return c.Store(KindPages, PageKey(pageURL), data, pageURL)
}

// Remove deletes a single cached file. Missing files are not an error.
func (c *Cache) Remove(p string) error {
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return apperr.Cache("unable to remove "+p, err)
	}
	return nil
}

// validateKey rejects keys that would escape the kind directory or hide
// from listings.
func validateKey(key string) error {
	if key == "" {
		return apperr.Usage("cache key is empty")
	}
	if strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") || strings.ContainsRune(key, 0) {
		return apperr.Usage(fmt.Sprintf("invalid cache key %q", key))
	}
	return nil
}
