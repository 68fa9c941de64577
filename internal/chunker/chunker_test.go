package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry() string {
	var b strings.Builder
	b.WriteString("Morning walk by the river\n\n")
	for p := 0; p < 6; p++ {
		for s := 0; s < 9; s++ {
			fmt.Fprintf(&b, "Paragraph %d sentence %d talks about coffee, rain and the long walk home. ", p, s)
		}
		b.WriteString("\n\n")
	}
	b.WriteString("Short closing line.")
	return b.String()
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestSplit_SmallTextSingleChunk(t *testing.T) {
	chunks := Split("Just one line.", DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, "Just one line.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 14, chunks[0].End)
}

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Split("", DefaultOptions()))
	assert.Empty(t, Split("  \n\n  ", DefaultOptions()))
	assert.Empty(t, ChunkWithPositions("", DefaultOptions()))
}

func TestSplit_Coverage(t *testing.T) {
	text := sampleEntry()
	chunks := Split(text, Options{Size: 200})
	require.Greater(t, len(chunks), 1)

	var joined strings.Builder
	for _, c := range chunks {
		joined.WriteString(c.Text)
	}
	assert.Equal(t, stripSpace(text), stripSpace(joined.String()))
}

func TestSplit_SizeBound(t *testing.T) {
	text := sampleEntry()
	for _, size := range []int{40, 120, 200, 500} {
		for _, c := range Split(text, Options{Size: size}) {
			assert.LessOrEqual(t, len([]rune(c.Text)), size, "size %d chunk %d", size, c.Index)
		}
	}
}

func TestSplit_LongWordIsOwnChunk(t *testing.T) {
	long := strings.Repeat("x", 80)
	text := "tiny words here " + long + " and after"
	chunks := Split(text, Options{Size: 30})

	var found bool
	for _, c := range chunks {
		if c.Text == long {
			found = true
			continue
		}
		assert.LessOrEqual(t, len([]rune(c.Text)), 30)
	}
	assert.True(t, found)
}

func TestSplit_VerbatimOffsets(t *testing.T) {
	text := "Día uno. ☕ café con leche!\n\nSegundo párrafo aquí. " + strings.Repeat("Más texto. ", 30)
	runes := []rune(text)
	for _, opts := range []Options{{Size: 50}, {Size: 50, Overlap: 10}} {
		for _, c := range Split(text, opts) {
			assert.Equal(t, string(runes[c.Start:c.End]), c.Text)
		}
		for _, c := range ChunkWithPositions(text, opts) {
			assert.Equal(t, string(runes[c.Start:c.End]), c.Text)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := sampleEntry()
	opts := Options{Size: 150, Overlap: 30}
	assert.Equal(t, Split(text, opts), Split(text, opts))
	assert.Equal(t, ChunkWithPositions(text, opts), ChunkWithPositions(text, opts))
}

func TestSplit_ParagraphsPacked(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."
	chunks := Split(text, Options{Size: 40})
	require.Len(t, chunks, 2)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", chunks[0].Text)
	assert.Equal(t, "Third paragraph.", chunks[1].Text)
}

func TestSplit_MediumParagraphCutsAtSentenceEnd(t *testing.T) {
	// 62 chars, between Size and 1.5x Size.
	text := "The rain stopped early. We walked to the market and back again"
	chunks := Split(text, Options{Size: 45})
	require.Len(t, chunks, 2)
	assert.Equal(t, "The rain stopped early.", chunks[0].Text)
	assert.Equal(t, "We walked to the market and back again", chunks[1].Text)
}

func TestChunkWithPositions_Overlap(t *testing.T) {
	text := sampleEntry()
	opts := Options{Size: 120, Overlap: 30}
	chunks := ChunkWithPositions(text, opts)
	require.Greater(t, len(chunks), 2)

	assert.Equal(t, len([]rune(text)), chunks[len(chunks)-1].End)
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		assert.Equal(t, prev.End-opts.Overlap, cur.Start)
		assert.Greater(t, cur.Start, prev.Start)
		assert.LessOrEqual(t, cur.End-cur.Start, opts.Size)
		assert.Equal(t, i, cur.Index)
	}
}

func TestChunkWithPositions_PrefersSentenceEnd(t *testing.T) {
	text := "One two three four five. Six seven eight nine ten eleven twelve."
	chunks := ChunkWithPositions(text, Options{Size: 40, Overlap: 5})
	require.NotEmpty(t, chunks)
	assert.Equal(t, "One two three four five.", chunks[0].Text)
}

func TestChunkWithPositions_OverlapClamped(t *testing.T) {
	text := strings.Repeat("abcdefghij", 20)
	chunks := ChunkWithPositions(text, Options{Size: 50, Overlap: 500})
	require.NotEmpty(t, chunks)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].Start, chunks[i-1].Start)
	}
	assert.Equal(t, 200, chunks[len(chunks)-1].End)
}
