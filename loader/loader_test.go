package loader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"taxonfinder/loader"
)

func TestDecode_ValidUTF8_PassesThrough(t *testing.T) {
	text, err := loader.Decode([]byte("нашли липу в лесу"))
	require.NoError(t, err)
	assert.Equal(t, "нашли липу в лесу", text)
}

func TestDecode_Windows1251_Recovered(t *testing.T) {
	original := "нашли липу в лесу"
	encoded, err := charmap.Windows1251.NewEncoder().String(original)
	require.NoError(t, err)

	decoded, err := loader.Decode([]byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecode_KOI8R_Recovered(t *testing.T) {
	original := "ель и берёза"
	encoded, err := charmap.KOI8R.NewEncoder().String(original)
	require.NoError(t, err)

	decoded, err := loader.Decode([]byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestPlainText_Load_RejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0o644))

	l := loader.PlainText{}
	_, err := l.Load(path, 0.001)
	assert.Error(t, err)
}

func TestPlainText_Load_MissingFile(t *testing.T) {
	l := loader.PlainText{}
	_, err := l.Load(filepath.Join(t.TempDir(), "missing.txt"), 10)
	assert.Error(t, err)
}

func TestPlainText_Supports(t *testing.T) {
	l := loader.PlainText{}
	assert.True(t, l.Supports("notes.TXT"))
	assert.False(t, l.Supports("notes.md"))
}
