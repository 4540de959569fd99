package cache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robertmeta/manga-cli/apperr"
)

// Entry is a cached file as seen by a directory listing.
type Entry struct {
	Path    string
	Key     string
	Size    int64
	ModTime time.Time
}

// Entries lists the regular, non-hidden files directly under kind's
// directory, newest first. A missing directory yields no entries.
func (c *Cache) Entries(kind Kind) ([]Entry, error) {
	dir := c.Dir(kind)
	items, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Cache("unable to list "+dir, err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		name := item.Name()
		if strings.HasPrefix(name, ".") || !item.Type().IsRegular() {
			continue
		}
		info, err := item.Info()
		if err != nil {
			// Removed between ReadDir and Info
			if os.IsNotExist(err) {
				continue
			}
			return nil, apperr.Cache("unable to stat "+name, err)
		}
		entries = append(entries, Entry{
			Path:    filepath.Join(dir, name),
			Key:     strings.TrimSuffix(name, filepath.Ext(name)),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].ModTime.After(entries[j].ModTime)
	})

	return entries, nil
}

// EvictOldest keeps the keep most recently modified entries of kind and
// deletes the rest, returning the removed paths. Modification time is set
// when a file is downloaded and never refreshed on a hit, so this is
// first-in-first-out by download time.
func (c *Cache) EvictOldest(kind Kind, keep int) ([]string, error) {
	if keep < 0 {
		return nil, apperr.Usage("keep count must not be negative")
	}

	entries, err := c.Entries(kind)
	if err != nil {
		return nil, err
	}
	if len(entries) <= keep {
		return []string{}, nil
	}

	removed := make([]string, 0, len(entries)-keep)
	for _, entry := range entries[keep:] {
		if err := c.Remove(entry.Path); err != nil {
			return removed, err
		}
		removed = append(removed, entry.Path)
	}
	return removed, nil
}

// Purge deletes every entry of kind and returns the removed paths.
func (c *Cache) Purge(kind Kind) ([]string, error) {
	return c.EvictOldest(kind, 0)
}
