package summarize

import (
	"strings"
	"unicode/utf8"
)

const (
	// maxChunkChars keeps one chunk near 30k tokens at roughly four
	// chars per token, leaving room for the prompt around it.
	maxChunkChars = 120000

	// maxOverlapChars bounds the tail carried from one chunk into the
	// next so a thought cut at a boundary reaches the model twice.
	maxOverlapChars = 1000
)

// chunkText splits text into pieces of at most maxChars, preferring
// paragraph boundaries and falling back to sentence ends for paragraphs
// that alone exceed a chunk. Consecutive chunks share a short tail for
// continuity. maxChars at or below zero selects the default limit.
func chunkText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = maxChunkChars
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	acc := chunkAccumulator{joiner: "\n\n", max: maxChars}
	for _, para := range strings.Split(text, "\n\n") {
		if len(para) <= maxChars {
			acc.add(para)
			continue
		}

		// The paragraph cannot fit in any chunk. Close the running one
		// and split the paragraph at sentence ends into chunks of its
		// own, then carry its ending forward.
		acc.flush()
		sub := chunkAccumulator{joiner: "", max: maxChars}
		for _, sentence := range strings.SplitAfter(para, ". ") {
			sub.add(sentence)
		}
		sub.flush()
		acc.out = append(acc.out, sub.out...)
		acc.overlap = sub.overlap
	}
	acc.flush()

	chunks := acc.out
	for i, c := range chunks {
		// Only input with no usable boundaries at all lands here.
		if len(c) > maxChars {
			chunks[i] = truncateChunk(c, maxChars)
		}
	}
	return chunks
}

// chunkAccumulator packs parts into chunks of at most max bytes,
// remembering each emitted chunk's tail as overlap for the next one.
type chunkAccumulator struct {
	joiner  string
	max     int
	out     []string
	parts   []string
	size    int
	overlap string
}

func (a *chunkAccumulator) add(part string) {
	if a.size > 0 && a.size+len(a.joiner)+len(part) > a.max {
		a.flush()
	}
	if a.size == 0 && a.overlap != "" {
		if len(a.overlap)+len(a.joiner)+len(part) <= a.max {
			a.parts = append(a.parts, a.overlap)
			a.size = len(a.overlap)
		}
		a.overlap = ""
	}
	if a.size > 0 {
		a.size += len(a.joiner)
	}
	a.parts = append(a.parts, part)
	a.size += len(part)
}

func (a *chunkAccumulator) flush() {
	if len(a.parts) == 0 {
		return
	}
	a.out = append(a.out, strings.Join(a.parts, a.joiner))

	if tail := a.parts[len(a.parts)-1]; len(tail) <= maxOverlapChars {
		a.overlap = tail
	} else {
		a.overlap = ""
	}
	a.parts = a.parts[:0]
	a.size = 0
}

// truncateChunk cuts s at n bytes without splitting a UTF-8 sequence.
func truncateChunk(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
