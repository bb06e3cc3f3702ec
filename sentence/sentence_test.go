package sentence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxonfinder/sentence"
)

func TestSplit_Basic(t *testing.T) {
	text := "На перевале росла липа. Рядом цвела ромашка! Кто это был?"
	spans := sentence.Split(text)
	require.Len(t, spans, 3)
	assert.Equal(t, "На перевале росла липа.", spans[0].Text)
	assert.Equal(t, "Рядом цвела ромашка!", spans[1].Text)
	assert.Equal(t, "Кто это был?", spans[2].Text)
	for _, s := range spans {
		assert.Equal(t, s.Text, text[s.Start:s.End])
	}
}

func TestSplit_NoTrailingPunctuation(t *testing.T) {
	spans := sentence.Split("Просто текст без точки")
	require.Len(t, spans, 1)
	assert.Equal(t, "Просто текст без точки", spans[0].Text)
}

func TestIndexAt(t *testing.T) {
	spans := sentence.Split("Раз. Два. Три.")
	idx := sentence.IndexAt(spans, spans[1].Start, spans[1].End)
	assert.Equal(t, 1, idx)
	assert.Equal(t, -1, sentence.IndexAt(spans, 1000, 1001))
}
