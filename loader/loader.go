// Package loader reads input text from disk, decoding non-UTF-8 files by
// scoring a fixed set of Cyrillic-capable legacy encodings and keeping
// whichever decodes with the highest Cyrillic letter density.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"taxonfinder"
)

// fallbackEncodings is tried, in order, after UTF-8 decoding fails; scoring
// picks the best result rather than the first one that merely decodes
// without error.
var fallbackEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"windows-1251", charmap.Windows1251},
	{"koi8-r", charmap.KOI8R},
	{"iso8859-5", charmap.ISO8859_5},
	{"mac-cyrillic", charmap.MacintoshCyrillic},
}

// PlainText is the only loader the core ships: it reads whole files under a
// configured size cap and handles UTF-8/legacy-Cyrillic decoding.
type PlainText struct{}

// Supports reports whether path has a .txt extension.
func (PlainText) Supports(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".txt"
}

// Load reads path, rejecting files over maxFileSizeMB, and returns its
// decoded text.
func (PlainText) Load(path string, maxFileSizeMB float64) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("loader: input file not found: %w", err)
	}

	maxBytes := int64(maxFileSizeMB * 1024 * 1024)
	if info.Size() > maxBytes {
		sizeMB := float64(info.Size()) / (1024 * 1024)
		return "", fmt.Errorf("loader: input file exceeds maximum size (%.1f MB). Current: %.1f MB", maxFileSizeMB, sizeMB)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("loader: read input file: %w", err)
	}

	return Decode(data)
}

// Decode returns data as UTF-8 text, falling back to legacy Cyrillic
// encodings scored by letter density when data is not valid UTF-8.
func Decode(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	return decodeWithFallback(data)
}

func decodeWithFallback(data []byte) (string, error) {
	var bestText string
	bestScore := 0

	for _, candidate := range fallbackEncodings {
		decoded, err := candidate.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		text := string(decoded)
		if score := cyrillicScore(text); score > bestScore {
			bestScore = score
			bestText = text
		}
	}

	if bestScore > 0 {
		return bestText, nil
	}
	return "", taxonfinder.NewEncodingError("unable to detect input file encoding; please convert the file to UTF-8", nil)
}

func cyrillicScore(text string) int {
	lower, upper := 0, 0
	for _, r := range text {
		switch {
		case (r >= 'а' && r <= 'я') || r == 'ё':
			lower++
		case (r >= 'А' && r <= 'Я') || r == 'Ё':
			upper++
		}
	}
	return lower*2 + upper
}
