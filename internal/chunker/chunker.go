// Package chunker splits journal text into bounded, sentence-aware passages.
//
// Split produces the non-overlapping, paragraph-aware segmentation used when an
// entry is indexed. ChunkWithPositions produces overlapping windows used when
// candidate entries are re-ranked at passage granularity. All offsets are rune
// offsets and every chunk's Text is the verbatim substring runes[Start:End].
package chunker

import (
	"regexp"
	"unicode"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 100
)

// Options controls chunk size and overlap, both measured in characters (runes).
type Options struct {
	Size    int
	Overlap int
}

// DefaultOptions returns the defaults used across the application.
func DefaultOptions() Options {
	return Options{Size: DefaultSize, Overlap: DefaultOverlap}
}

func (o Options) normalize() Options {
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap >= o.Size {
		o.Overlap = o.Size / 4
	}
	return o
}

// Chunk is one passage of a text.
type Chunk struct {
	Index int    `json:"chunk_index"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type span struct {
	start, end int
}

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n\s*`)
	sentenceBreak  = regexp.MustCompile(`[.!?]+\s+`)
)

// Split breaks text on paragraph boundaries and packs paragraphs, sentences or
// word groups into chunks of at most opts.Size characters. Overlap is ignored.
func Split(text string, opts Options) []Chunk {
	opts = opts.normalize()
	runes := []rune(text)

	var units []span
	for _, para := range paragraphs(runes) {
		units = append(units, paragraphUnits(runes, para, opts.Size)...)
	}
	if len(units) == 0 {
		return nil
	}

	var chunks []Chunk
	cur := units[0]
	for _, u := range units[1:] {
		if u.end-cur.start > opts.Size {
			chunks = appendChunk(chunks, runes, cur)
			cur = u
			continue
		}
		cur.end = u.end
	}
	return appendChunk(chunks, runes, cur)
}

// ChunkWithPositions slides a window of opts.Size characters over text. Each
// window after the first starts opts.Overlap characters before the previous
// window's end, and window ends prefer sentence boundaries.
func ChunkWithPositions(text string, opts Options) []Chunk {
	opts = opts.normalize()
	runes := []rune(text)
	n := len(runes)

	start := skipSpace(runes, 0, n)
	var chunks []Chunk
	for start < n {
		end := start + opts.Size
		if end >= n {
			end = n
		} else {
			end = sentenceCut(runes, start, end, opts.Size)
		}
		chunks = appendChunk(chunks, runes, span{start, end})

		if end >= n || skipSpace(runes, end, n) >= n {
			break
		}
		next := end - opts.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func appendChunk(chunks []Chunk, runes []rune, s span) []Chunk {
	return append(chunks, Chunk{
		Index: len(chunks),
		Text:  string(runes[s.start:s.end]),
		Start: s.start,
		End:   s.end,
	})
}

// paragraphs returns the non-blank spans between blank-line separators.
func paragraphs(runes []rune) []span {
	text := string(runes)
	var out []span
	prev := 0
	for _, loc := range paragraphBreak.FindAllStringIndex(text, -1) {
		out = appendTrimmed(out, runes, byteToRune(text, prev), byteToRune(text, loc[0]))
		prev = loc[1]
	}
	return appendTrimmed(out, runes, byteToRune(text, prev), len(runes))
}

func paragraphUnits(runes []rune, para span, size int) []span {
	length := para.end - para.start
	switch {
	case length <= size:
		return []span{para}
	case length*2 <= size*3:
		return cutUnits(runes, para, size)
	}

	var units []span
	for _, s := range sentences(runes, para) {
		if s.end-s.start > size {
			units = append(units, wordGroups(runes, s, size)...)
			continue
		}
		units = append(units, s)
	}
	return units
}

// cutUnits repeatedly cuts para at the sentence end nearest to the size limit.
func cutUnits(runes []rune, para span, size int) []span {
	var units []span
	pos := para.start
	for para.end-pos > size {
		end := sentenceCut(runes, pos, pos+size, size)
		units = appendTrimmed(units, runes, pos, end)
		pos = skipSpace(runes, end, para.end)
	}
	return appendTrimmed(units, runes, pos, para.end)
}

// sentenceCut looks backward from limit for ". ", "! " or "? " (or a newline
// after the punctuation) and returns the position just after the punctuation
// when at least half the chunk size is kept. Otherwise limit is returned.
func sentenceCut(runes []rune, start, limit, size int) int {
	for i := limit; i-start >= size/2 && i > start; i-- {
		if i >= len(runes) {
			continue
		}
		switch runes[i-1] {
		case '.', '!', '?':
			if runes[i] == ' ' || runes[i] == '\n' {
				return i
			}
		}
	}
	return limit
}

func sentences(runes []rune, para span) []span {
	text := string(runes[para.start:para.end])
	var out []span
	prev := 0
	for _, loc := range sentenceBreak.FindAllStringIndex(text, -1) {
		punctEnd := loc[1]
		for punctEnd > loc[0] && unicode.IsSpace(rune(text[punctEnd-1])) {
			punctEnd--
		}
		out = appendTrimmed(out, runes, para.start+byteToRune(text, prev), para.start+byteToRune(text, punctEnd))
		prev = loc[1]
	}
	return appendTrimmed(out, runes, para.start+byteToRune(text, prev), para.end)
}

// wordGroups packs whitespace-separated words into groups of at most size
// characters. A word longer than size becomes a group on its own.
func wordGroups(runes []rune, s span, size int) []span {
	var groups []span
	cur := span{-1, -1}
	i := s.start
	for i < s.end {
		i = skipSpace(runes, i, s.end)
		if i >= s.end {
			break
		}
		j := i
		for j < s.end && !unicode.IsSpace(runes[j]) {
			j++
		}
		switch {
		case cur.start < 0:
			cur = span{i, j}
		case j-cur.start > size:
			groups = append(groups, cur)
			cur = span{i, j}
		default:
			cur.end = j
		}
		i = j
	}
	if cur.start >= 0 {
		groups = append(groups, cur)
	}
	return groups
}

// appendTrimmed appends [start, end) with surrounding whitespace removed, if any text remains.
func appendTrimmed(out []span, runes []rune, start, end int) []span {
	start = skipSpace(runes, start, end)
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	if end <= start {
		return out
	}
	return append(out, span{start, end})
}

func skipSpace(runes []rune, i, end int) int {
	for i < end && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

func byteToRune(s string, byteOffset int) int {
	return len([]rune(s[:byteOffset]))
}
