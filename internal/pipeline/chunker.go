package pipeline

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkerOptions configures where a turn's text may be split.
type ChunkerOptions struct {
	PauseMarker      string
	SplitOnSentences bool
}

// A terminator run counts only once the following whitespace has arrived,
// so "3.5" or a streamed "Dr." is never split early.
var sentenceEnd = regexp.MustCompile(`[.!?]+["'”’)\]]*\s`)

var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "sr": true, "jr": true,
	"st": true, "vs": true, "etc": true, "eg": true, "ie": true, "inc": true, "ltd": true,
	"co": true, "corp": true, "no": true, "vol": true, "dept": true, "ave": true, "approx": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "jun": true, "jul": true, "aug": true,
	"sep": true, "sept": true, "oct": true, "nov": true, "dec": true,
	"phd": true, "us": true, "uk": true,
}

// Chunker splits one turn's streamed text into ordered chunks.
type Chunker struct {
	turnIndex int
	opts      ChunkerOptions
	buf       string
	next      int
}

// NewChunker returns a chunker for the given turn.
func NewChunker(turnIndex int, opts ChunkerOptions) *Chunker {
	return &Chunker{turnIndex: turnIndex, opts: opts}
}

// Feed appends a fragment and returns every chunk that is now complete.
func (c *Chunker) Feed(fragment string) []Chunk {
	c.buf += fragment

	var out []Chunk
	for {
		end := c.boundary()
		if end < 0 {
			return out
		}
		out = c.cut(out, c.buf[:end])
		c.buf = c.buf[end:]
	}
}

// Flush emits whatever remains as the final chunk of the turn.
func (c *Chunker) Flush() (Chunk, bool) {
	rest := c.buf
	c.buf = ""
	out := c.cut(nil, rest)
	if len(out) == 0 {
		return Chunk{}, false
	}
	return out[0], true
}

// Emitted returns how many chunks have been produced so far.
func (c *Chunker) Emitted() int {
	return c.next
}

func (c *Chunker) cut(out []Chunk, text string) []Chunk {
	chunk := Chunk{TurnIndex: c.turnIndex, ChunkIndex: c.next, Text: text}
	if chunk.Speakable(c.opts.PauseMarker) == "" {
		return out
	}
	c.next++
	return append(out, chunk)
}

// boundary returns the offset just past the earliest boundary in buf, or -1.
func (c *Chunker) boundary() int {
	end := -1
	if c.opts.PauseMarker != "" {
		if i := strings.Index(c.buf, c.opts.PauseMarker); i >= 0 {
			end = i + len(c.opts.PauseMarker)
		}
	}
	if !c.opts.SplitOnSentences {
		return end
	}

	search := c.buf
	if end >= 0 {
		search = c.buf[:end]
	}
	for offset := 0; offset < len(search); {
		loc := sentenceEnd.FindStringIndex(search[offset:])
		if loc == nil {
			break
		}
		start, stop := offset+loc[0], offset+loc[1]
		if search[start] != '.' || !abbreviationBefore(search, start) {
			// stop sits past the single whitespace byte matched by \s
			return stop - 1
		}
		offset = stop
	}
	return end
}

// abbreviationBefore reports whether the word ending at pos is a known
// abbreviation or a single-letter initial.
func abbreviationBefore(s string, pos int) bool {
	start := pos
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	word := strings.ToLower(strings.ReplaceAll(s[start:pos], ".", ""))
	if word == "" {
		return false
	}
	if utf8.RuneCountInString(word) == 1 {
		return true
	}
	return abbreviations[word]
}
