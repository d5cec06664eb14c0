package ingest

import (
	"regexp"
	"strings"
)

// pageMarkerPattern matches the boundaries the OCR/PDF extraction step
// injects, e.g. "=== PDF PAGE(S) 3-4 ===".
var pageMarkerPattern = regexp.MustCompile(`===\s*PDF PAGE\(S\)\s*([^=]+?)\s*===`)

// SplitChunks partitions the raw statement text into ordered, page-tagged
// chunks. Text without markers comes back as a single chunk; this function
// never fails.
func SplitChunks(statementText string) []RawChunk {
	matches := pageMarkerPattern.FindAllStringSubmatchIndex(statementText, -1)
	if len(matches) == 0 {
		return []RawChunk{{
			Content:        statementText,
			PageRange:      "1",
			SequenceNumber: 1,
		}}
	}

	chunks := make([]RawChunk, 0, len(matches))
	seq := 1
	for i, m := range matches {
		pageRange := strings.TrimSpace(statementText[m[2]:m[3]])

		contentStart := m[1]
		contentEnd := len(statementText)
		if i+1 < len(matches) {
			contentEnd = matches[i+1][0]
		}
		content := strings.TrimSpace(statementText[contentStart:contentEnd])
		if content == "" {
			continue
		}

		chunks = append(chunks, RawChunk{
			Content:        content,
			PageRange:      pageRange,
			SequenceNumber: seq,
		})
		seq++
	}

	if len(chunks) == 0 {
		return []RawChunk{{
			Content:        statementText,
			PageRange:      "1",
			SequenceNumber: 1,
		}}
	}
	return chunks
}
