package memory

import "strings"

// Default chunking parameters. Chunks keep individual vectors
// semantically coherent; the overlap preserves context cut at a
// boundary.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// SplitText splits text into chunks of at most size runes with the given
// overlap between consecutive chunks. Split points prefer whitespace near
// the boundary so words survive intact. Empty or whitespace-only input
// yields no chunks.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Back up to the nearest whitespace, but never more than
			// the overlap distance, to avoid splitting mid-word.
			cut := end
			for cut > start+size-overlap && !isSpace(runes[cut-1]) {
				cut--
			}
			if cut > start {
				end = cut
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			// The whitespace back-off can leave end within overlap of
			// start when overlap is large relative to size. Skip the
			// overlap for this step so the loop always advances.
			next = end
		}
		start = next
	}

	return chunks
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
