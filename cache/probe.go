package cache

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/robertmeta/manga-cli/apperr"
	_ "golang.org/x/image/webp"
)

// ProbeDimensions reads only the image header at path and reports its pixel
// size.
func ProbeDimensions(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, apperr.Cache("unable to open "+path, err)
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, apperr.Decode("image "+path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// ProbeBytes reports the pixel size and format of an in-memory image. It is
// used to reject non-image responses before they reach the cache.
func ProbeBytes(data []byte) (int, int, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", apperr.Decode("image bytes", err)
	}
	return cfg.Width, cfg.Height, format, nil
}
