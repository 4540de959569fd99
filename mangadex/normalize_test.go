package mangadex

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/robertmeta/manga-cli/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMangaID = "a96676e5-8ae2-425e-b549-7f15dd34a6d8"

func normalizeRaw(t *testing.T, n *Normalizer, raw string, resolveCover bool) (string, error) {
	t.Helper()
	m, err := n.Normalize(context.Background(), json.RawMessage(raw), resolveCover)
	if err != nil {
		return "", err
	}
	return m.Title, nil
}

func TestNormalize_Fields(t *testing.T) {
	n := NewNormalizer("https://uploads.example", []string{"en"}, nil, nil)

	raw := `{
		"id": "` + testMangaID + `",
		"type": "manga",
		"attributes": {
			"title": {"en": "Komi Can't Communicate"},
			"description": {"en": "A shy girl.", "ja": "説明"},
			"year": 2016,
			"status": "completed",
			"tags": [
				{"id": "t1", "attributes": {"name": {"en": "Comedy"}}},
				{"id": "t2", "attributes": {"name": {"ja": "日常"}}},
				{"id": "t3", "attributes": {"name": {"en": "School Life"}}}
			]
		},
		"relationships": [
			{"id": "author-1", "type": "author"},
			{"id": "cover-1", "type": "cover_art", "attributes": {"fileName": "f1.jpg"}}
		]
	}`

	m, err := n.Normalize(context.Background(), json.RawMessage(raw), true)
	require.NoError(t, err)

	assert.Equal(t, "mangadex", m.Provider)
	assert.Equal(t, testMangaID, m.ID)
	assert.Equal(t, "Komi Can't Communicate", m.Title)
	assert.Equal(t, "A shy girl.", m.Description)
	assert.Equal(t, []string{"Comedy", "", "School Life"}, m.Tags, "tag order is source order")
	require.NotNil(t, m.Year)
	assert.Equal(t, 2016, *m.Year)
	require.NotNil(t, m.Status)
	assert.Equal(t, "completed", *m.Status)
	require.NotNil(t, m.CoverURL)
	assert.Equal(t, "https://uploads.example/covers/"+testMangaID+"/f1.jpg", *m.CoverURL)
	assert.Nil(t, m.CoverPath, "normalization never touches the cache")
	assert.NoError(t, m.Validate())
}

func TestNormalize_TitleFallback(t *testing.T) {
	tests := []struct {
		name     string
		locales  []string
		title    string
		expected string
	}{
		{
			name:     "preferred locale",
			locales:  []string{"en"},
			title:    `{"ja": "ワンピース", "en": "One Piece"}`,
			expected: "One Piece",
		},
		{
			name:     "no english uses smallest locale key",
			locales:  []string{"en"},
			title:    `{"ja": "ワンピース", "fr": "Une Pièce"}`,
			expected: "Une Pièce",
		},
		{
			name:     "empty english value falls through",
			locales:  []string{"en"},
			title:    `{"en": "", "ja-ro": "Wan Piisu"}`,
			expected: "Wan Piisu",
		},
		{
			name:     "priority list order",
			locales:  []string{"ja-ro", "en"},
			title:    `{"en": "One Piece", "ja-ro": "Wan Piisu"}`,
			expected: "Wan Piisu",
		},
		{
			name:     "empty map",
			locales:  []string{"en"},
			title:    `{}`,
			expected: "",
		},
		{
			name:     "empty array quirk",
			locales:  []string{"en"},
			title:    `[]`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNormalizer("https://uploads.example", tt.locales, nil, nil)
			raw := `{"id": "m1", "attributes": {"title": ` + tt.title + `}}`

			title, err := normalizeRaw(t, n, raw, false)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, title)
		})
	}
}

func TestNormalize_NoEnglishTitleIsDeterministic(t *testing.T) {
	n := NewNormalizer("https://uploads.example", nil, nil, nil)
	raw := `{"id": "m1", "attributes": {"title": {"zh": "海贼王", "ko": "원피스", "ja": "ワンピース"}}}`

	for i := 0; i < 20; i++ {
		title, err := normalizeRaw(t, n, raw, false)
		require.NoError(t, err)
		assert.Equal(t, "ワンピース", title)
	}
}

func TestNormalize_NFC(t *testing.T) {
	n := NewNormalizer("https://uploads.example", []string{"en"}, nil, nil)
	// "e" followed by a combining acute accent
	raw := `{"id": "m1", "attributes": {"title": {"en": "Cafe\u0301"}}}`

	title, err := normalizeRaw(t, n, raw, false)
	require.NoError(t, err)
	assert.Equal(t, "Caf\u00e9", title)
}

func TestNormalize_DescriptionAndNulls(t *testing.T) {
	n := NewNormalizer("https://uploads.example", []string{"en"}, nil, nil)
	raw := `{"id": "m1", "attributes": {"title": {"en": "T"}, "description": [], "year": null, "status": null, "tags": []}}`

	m, err := n.Normalize(context.Background(), json.RawMessage(raw), false)
	require.NoError(t, err)
	assert.Equal(t, "", m.Description)
	assert.Nil(t, m.Year)
	assert.Nil(t, m.Status)
	assert.NotNil(t, m.Tags)
	assert.Empty(t, m.Tags)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"tags":[]`)
	assert.Contains(t, string(out), `"cover_url":null`)
}

func TestNormalize_MalformedRecords(t *testing.T) {
	n := NewNormalizer("https://uploads.example", nil, nil, nil)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "not an object", raw: `"oops"`},
		{name: "missing id", raw: `{"attributes": {"title": {"en": "T"}}}`},
		{name: "missing attributes", raw: `{"id": "m1"}`},
		{name: "wrong title type", raw: `{"id": "m1", "attributes": {"title": 42}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(context.Background(), json.RawMessage(tt.raw), false)
			assert.True(t, apperr.IsCode(err, apperr.CodeDecode), "got %v", err)
		})
	}
}

func TestNormalize_CoverFallbacks(t *testing.T) {
	t.Run("secondary lookup used when no relationship", func(t *testing.T) {
		var calls int
		lookup := func(ctx context.Context, mangaID string) (string, error) {
			calls++
			assert.Equal(t, "m1", mangaID)
			return "from-lookup.png", nil
		}
		n := NewNormalizer("https://uploads.example/", nil, lookup, nil)

		m, err := n.Normalize(context.Background(), json.RawMessage(`{"id": "m1", "attributes": {}}`), true)
		require.NoError(t, err)
		require.NotNil(t, m.CoverURL)
		assert.Equal(t, "https://uploads.example/covers/m1/from-lookup.png", *m.CoverURL)
		assert.Equal(t, 1, calls)
	})

	t.Run("relationship without file name falls back", func(t *testing.T) {
		lookup := func(ctx context.Context, mangaID string) (string, error) {
			return "second.jpg", nil
		}
		n := NewNormalizer("https://uploads.example", nil, lookup, nil)
		raw := `{"id": "m1", "attributes": {}, "relationships": [{"id": "c", "type": "cover_art"}]}`

		m, err := n.Normalize(context.Background(), json.RawMessage(raw), true)
		require.NoError(t, err)
		require.NotNil(t, m.CoverURL)
		assert.Equal(t, "https://uploads.example/covers/m1/second.jpg", *m.CoverURL)
	})

	t.Run("failing lookup leaves cover unset", func(t *testing.T) {
		lookup := func(ctx context.Context, mangaID string) (string, error) {
			return "", errors.New("boom")
		}
		n := NewNormalizer("https://uploads.example", nil, lookup, nil)

		m, err := n.Normalize(context.Background(), json.RawMessage(`{"id": "m1", "attributes": {}}`), true)
		require.NoError(t, err)
		assert.Nil(t, m.CoverURL)
		assert.Nil(t, m.CoverPath)
		assert.Nil(t, m.CoverWidth)
		assert.Nil(t, m.CoverHeight)
	})

	t.Run("resolveCover false skips lookup", func(t *testing.T) {
		lookup := func(ctx context.Context, mangaID string) (string, error) {
			t.Fatal("lookup must not be called")
			return "", nil
		}
		n := NewNormalizer("https://uploads.example", nil, lookup, nil)

		m, err := n.Normalize(context.Background(), json.RawMessage(`{"id": "m1", "attributes": {}}`), false)
		require.NoError(t, err)
		assert.Nil(t, m.CoverURL)
	})
}
