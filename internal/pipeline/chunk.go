package pipeline

import "strings"

const DefaultChunkMaxChars = 2000

// Chunk splits text into trimmed, non-empty segments of at most maxChars
// runes. Each window is cut at its last newline, else just after its last
// ". ", else at the window boundary.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultChunkMaxChars
	}
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		cut := end
		if end < len(runes) {
			cut = cutPoint(runes, start, end)
		}
		if piece := strings.TrimSpace(string(runes[start:cut])); piece != "" {
			chunks = append(chunks, piece)
		}
		start = cut
	}
	return chunks
}

// cutPoint returns an index in (start, end]. A separator sitting at start
// would produce an empty window, so it is ignored.
func cutPoint(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	// ". " must fit inside the window, the cut keeps the period.
	for i := end - 2; i > start; i-- {
		if runes[i] == '.' && runes[i+1] == ' ' {
			return i + 1
		}
	}
	return end
}
