package content

import (
	"sort"
	"strings"
)

// DefaultChunkSize is the target chunk size in characters.
const DefaultChunkSize = 1000

// Chunk splits content into size-bounded fragments. Splitting prefers
// paragraph boundaries; paragraphs larger than targetSize are further split
// at sentence boundaries, and a sentence that still exceeds the target is
// split at the last word boundary. Separators stay attached to the preceding
// fragment, so concatenating the returned chunks in order reproduces the
// content byte for byte.
func Chunk(content string, targetSize int) []string {
	if targetSize <= 0 {
		targetSize = DefaultChunkSize
	}
	if content == "" {
		return nil
	}
	if len(content) <= targetSize {
		return []string{content}
	}

	paragraphs := splitAfter(content, "\n\n")

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if len(para) > targetSize {
			// Oversized paragraph: emit what we have, then split it finer.
			flush()
			for _, piece := range splitOversized(para, targetSize) {
				if current.Len()+len(piece) > targetSize {
					flush()
				}
				current.WriteString(piece)
			}
			continue
		}

		if current.Len()+len(para) > targetSize {
			flush()
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// splitOversized breaks a fragment at sentence boundaries, falling back to
// word boundaries for any sentence still larger than targetSize. Words are
// never split.
func splitOversized(text string, targetSize int) []string {
	var pieces []string
	for _, sentence := range splitSentences(text) {
		if len(sentence) <= targetSize {
			pieces = append(pieces, sentence)
			continue
		}
		pieces = append(pieces, splitWords(sentence, targetSize)...)
	}
	return pieces
}

// splitSentences splits after sentence-ending punctuation followed by a space
// or newline, keeping the terminator and trailing whitespace with the
// preceding sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && (text[i+1] == ' ' || text[i+1] == '\n') {
			// Include the whitespace run in this sentence
			end := i + 1
			for end < len(text) && (text[end] == ' ' || text[end] == '\n') {
				end++
			}
			sentences = append(sentences, text[start:end])
			start = end
			i = end - 1
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

// splitWords splits at space boundaries, keeping each piece under targetSize
// where possible. A single word longer than targetSize becomes its own piece.
func splitWords(text string, targetSize int) []string {
	var pieces []string
	for len(text) > targetSize {
		cut := strings.LastIndexByte(text[:targetSize+1], ' ')
		if cut <= 0 {
			// No boundary inside the window: take the whole word.
			next := strings.IndexByte(text, ' ')
			if next < 0 {
				break
			}
			cut = next
		}
		pieces = append(pieces, text[:cut+1])
		text = text[cut+1:]
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}

// splitAfter splits text after each occurrence of sep, keeping the separator
// attached to the preceding piece.
func splitAfter(text, sep string) []string {
	var pieces []string
	for {
		idx := strings.Index(text, sep)
		if idx < 0 {
			break
		}
		pieces = append(pieces, text[:idx+len(sep)])
		text = text[idx+len(sep):]
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}

// ReconstructResult reports the outcome of reassembling chunked content.
type ReconstructResult struct {
	Content        string
	Complete       bool
	MissingIndices []int
}

// Reconstruct reassembles content from chunks keyed by index. totalChunks is
// the expected chunk count recorded at chunking time. Missing chunks are
// reported, never silently skipped: Complete is false and MissingIndices
// lists every absent index in ascending order.
func Reconstruct(chunksByIndex map[int]string, totalChunks int) ReconstructResult {
	var missing []int
	var builder strings.Builder

	for i := 0; i < totalChunks; i++ {
		chunk, ok := chunksByIndex[i]
		if !ok {
			missing = append(missing, i)
			continue
		}
		builder.WriteString(chunk)
	}

	sort.Ints(missing)
	return ReconstructResult{
		Content:        builder.String(),
		Complete:       len(missing) == 0,
		MissingIndices: missing,
	}
}
