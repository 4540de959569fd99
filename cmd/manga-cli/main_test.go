package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/robertmeta/manga-cli/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMangaID = "a96676e5-8ae2-425e-b549-7f15dd34a6d8"

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

type harness struct {
	server   *httptest.Server
	cacheDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cover := pngBytes(t, 4, 5)
	page := pngBytes(t, 6, 7)

	mux := http.NewServeMux()
	mux.HandleFunc("/manga", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": "ok", "data": [{"id": "` + testMangaID + `", "attributes": {"title": {"en": "Test Manga"}}, "relationships": [{"type": "cover_art", "attributes": {"fileName": "c.png"}}]}], "total": 1}`))
	})
	mux.HandleFunc("/manga/"+testMangaID, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": "ok", "data": {"id": "` + testMangaID + `", "attributes": {"title": {"en": "Test Manga"}}, "relationships": [{"type": "cover_art", "attributes": {"fileName": "c.png"}}]}}`))
	})
	mux.HandleFunc("/manga/"+testMangaID+"/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": "ok", "data": [{"id": "ch-1", "attributes": {"title": "One", "chapter": "1"}}], "total": 1}`))
	})
	mux.HandleFunc("/covers/"+testMangaID+"/c.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(cover)
	})
	mux.HandleFunc("/data/h1/a.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(page)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &harness{server: server, cacheDir: t.TempDir()}
}

// run invokes the CLI against the fake catalog and decodes its single JSON
// value.
func (h *harness) run(t *testing.T, args ...string) (int, map[string]interface{}, []interface{}) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	argv := []string{
		"manga-cli",
		"--env-file", filepath.Join(h.cacheDir, "missing.env"),
		"--cache-dir", h.cacheDir,
		"--api-url", h.server.URL,
		"--uploads-url", h.server.URL,
	}
	code := run(append(argv, args...), &stdout, &stderr)

	decoder := json.NewDecoder(&stdout)
	var value interface{}
	require.NoError(t, decoder.Decode(&value), "stdout: %s stderr: %s", stdout.String(), stderr.String())

	var extra interface{}
	assert.ErrorIs(t, decoder.Decode(&extra), io.EOF, "exactly one JSON value per invocation")

	switch v := value.(type) {
	case map[string]interface{}:
		return code, v, nil
	case []interface{}:
		return code, nil, v
	default:
		t.Fatalf("unexpected JSON value %T", value)
		return code, nil, nil
	}
}

func TestSearchCommand(t *testing.T) {
	h := newHarness(t)

	code, _, list := h.run(t, "search", "test")
	assert.Equal(t, ExitSuccess, code)
	require.Len(t, list, 1)

	manga := list[0].(map[string]interface{})
	assert.Equal(t, "mangadex", manga["provider"])
	assert.Equal(t, "Test Manga", manga["title"])
	assert.Equal(t, filepath.Join(h.cacheDir, "mangadex", "covers", testMangaID+".png"), manga["cover_path"])
	assert.Equal(t, float64(4), manga["cover_width"])
	assert.Equal(t, float64(5), manga["cover_height"])
}

func TestSearchCommand_NoCovers(t *testing.T) {
	h := newHarness(t)

	code, _, list := h.run(t, "search", "--no-covers", "test")
	assert.Equal(t, ExitSuccess, code)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].(map[string]interface{})["cover_path"])
}

func TestShowCommand_Errors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name     string
		args     []string
		wantExit int
		wantCode string
	}{
		{name: "missing id", args: []string{"show"}, wantExit: ExitUsageError, wantCode: "USAGE_ERROR"},
		{name: "invalid id", args: []string{"show", "not-a-uuid"}, wantExit: ExitUsageError, wantCode: "USAGE_ERROR"},
		{name: "unknown manga", args: []string{"show", "00000000-0000-0000-0000-000000000000"}, wantExit: ExitDataError, wantCode: "NOT_FOUND"},
		{name: "bad flag", args: []string{"search", "--limit", "many", "x"}, wantExit: ExitUsageError, wantCode: "USAGE_ERROR"},
		{name: "non-http page", args: []string{"page", "ftp://x/a.png"}, wantExit: ExitUsageError, wantCode: "USAGE_ERROR"},
		{name: "unknown kind", args: []string{"cleanup", "--kind", "thumbs"}, wantExit: ExitUsageError, wantCode: "USAGE_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, payload, _ := h.run(t, tt.args...)
			assert.Equal(t, tt.wantExit, code)
			require.NotNil(t, payload)
			assert.Equal(t, tt.wantCode, payload["code"])
			assert.NotEmpty(t, payload["error"])
		})
	}
}

func TestMissingOrUnknownCommand(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: nil},
		{name: "unknown command", args: []string{"bogus"}},
		{name: "unknown command with args", args: []string{"bogus", "x", "y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, payload, _ := h.run(t, tt.args...)
			assert.Equal(t, ExitUsageError, code)
			require.NotNil(t, payload)
			assert.Equal(t, "USAGE_ERROR", payload["code"])
		})
	}
}

func TestChaptersCommand_LeavesCacheUntouched(t *testing.T) {
	h := newHarness(t)

	code, _, chapters := h.run(t, "chapters", testMangaID)
	require.Equal(t, ExitSuccess, code)
	require.Len(t, chapters, 1)
	assert.Equal(t, "ch-1", chapters[0].(map[string]interface{})["id"])

	assert.NoFileExists(t, filepath.Join(h.cacheDir, "ledger.db"))
	assert.NoDirExists(t, filepath.Join(h.cacheDir, "mangadex"))
}

func TestPopularCommand_HTTPErrorCarriesStatus(t *testing.T) {
	h := newHarness(t)

	// A later global flag wins, so this points the catalog at a missing prefix.
	code, payload, _ := h.run(t, "--api-url", h.server.URL+"/missing", "popular")
	assert.Equal(t, ExitDataError, code)
	require.NotNil(t, payload)
	assert.Equal(t, "HTTP_ERROR", payload["code"])
	assert.Equal(t, float64(http.StatusNotFound), payload["status"])
}

func TestPageAndAssetsCommands(t *testing.T) {
	h := newHarness(t)
	pageURL := h.server.URL + "/data/h1/a.png"

	code, page, _ := h.run(t, "page", pageURL)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, pageURL, page["url"])
	assert.FileExists(t, page["path"].(string))
	assert.Equal(t, float64(6), page["width"])

	code, listing, _ := h.run(t, "assets", "--kind", "pages")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, float64(1), listing["count"])
	entries := listing["entries"].([]interface{})
	require.Len(t, entries, 1)
	assert.Equal(t, page["path"], entries[0].(map[string]interface{})["path"])

	code, payload, _ := h.run(t, "--no-ledger", "assets")
	assert.Equal(t, ExitUsageError, code)
	assert.Equal(t, "USAGE_ERROR", payload["code"])
}

func TestCoverAndCleanupCommands(t *testing.T) {
	h := newHarness(t)

	code, first, _ := h.run(t, "cover", testMangaID)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, testMangaID, first["id"])
	require.NotNil(t, first["cover_path"])

	code, second, _ := h.run(t, "cover", testMangaID)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, first["cover_path"], second["cover_path"])

	code, result, _ := h.run(t, "cleanup", "--kind", "covers", "--keep", "0")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "covers", result["kind"])
	assert.Equal(t, float64(0), result["kept"])
	assert.Equal(t, float64(1), result["removed"])

	code, listing, _ := h.run(t, "assets")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, float64(0), listing["total"], "evicted files leave the ledger")
}

func TestCleanupCommand_All(t *testing.T) {
	h := newHarness(t)

	code, _, _ := h.run(t, "page", h.server.URL+"/data/h1/a.png")
	require.Equal(t, ExitSuccess, code)

	// --all ignores --keep
	code, result, _ := h.run(t, "cleanup", "--kind", "pages", "--all", "--keep", "5")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, float64(0), result["kept"])
	assert.Equal(t, float64(1), result["removed"])

	code, listing, _ := h.run(t, "assets", "--kind", "pages")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, float64(0), listing["total"])
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: apperr.Usage("bad"), want: ExitUsageError},
		{err: apperr.NotFound("manga", "x"), want: ExitDataError},
		{err: apperr.Transport(errors.New("down")), want: ExitDataError},
		{err: apperr.HTTP(500, ""), want: ExitDataError},
		{err: apperr.Download("u", errors.New("x")), want: ExitDataError},
		{err: apperr.Cache("disk", nil), want: ExitDataError},
		{err: errors.New("boom"), want: ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
