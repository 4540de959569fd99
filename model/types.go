// Package model defines the core data structures for manga-cli.
package model

import (
	"errors"
	"time"
)

// Manga represents a catalog entry normalized from a provider's schema.
//
// Optional fields are pointers so they serialize as null when unset.
// CoverPath, CoverWidth and CoverHeight are either all set or all nil.
type Manga struct {
	Provider    string   `json:"provider"`
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Year        *int     `json:"year"`
	Status      *string  `json:"status"`
	CoverURL    *string  `json:"cover_url"`
	CoverPath   *string  `json:"cover_path"`
	CoverWidth  *int     `json:"cover_width"`
	CoverHeight *int     `json:"cover_height"`
}

// Validate checks if the manga has the fields that identify it.
func (m *Manga) Validate() error {
	if m.Provider == "" {
		return errors.New("manga provider is required")
	}
	if m.ID == "" {
		return errors.New("manga ID is required")
	}
	return nil
}

// HasCover returns true if a local cover file is attached.
func (m *Manga) HasCover() bool {
	return m.CoverPath != nil
}

// SetCover attaches a cached cover and its pixel dimensions.
func (m *Manga) SetCover(path string, width, height int) {
	m.CoverPath = &path
	m.CoverWidth = &width
	m.CoverHeight = &height
}

// Chapter represents a single chapter from a manga's feed.
// Chapter and Volume are remote labels and are not guaranteed to be numeric.
type Chapter struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Chapter     *string `json:"chapter"`
	Volume      *string `json:"volume"`
	Pages       *int    `json:"pages"`
	PublishDate *string `json:"publish_date"`
}

// Page represents one page image of a chapter.
type Page struct {
	URL    string  `json:"url"`
	Path   *string `json:"path"`
	Width  *int    `json:"width"`
	Height *int    `json:"height"`
}

// IsDownloaded returns true if the page has a local file.
func (p *Page) IsDownloaded() bool {
	return p.Path != nil
}

// SetFile attaches a cached file and its pixel dimensions.
func (p *Page) SetFile(path string, width, height int) {
	p.Path = &path
	p.Width = &width
	p.Height = &height
}

// Asset describes a cached binary file recorded in the ledger.
type Asset struct {
	ID        int64     `json:"id"`
	Provider  string    `json:"provider"`
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	Path      string    `json:"path"`
	SourceURL string    `json:"source_url"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	StoredAt  time.Time `json:"stored_at"`
}

// Validate checks if the asset has required fields.
func (a *Asset) Validate() error {
	if a.Kind == "" {
		return errors.New("asset kind is required")
	}
	if a.Key == "" {
		return errors.New("asset key is required")
	}
	if a.Path == "" {
		return errors.New("asset path is required")
	}
	return nil
}
