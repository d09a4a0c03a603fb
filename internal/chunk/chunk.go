// Package chunk implements the chunker (spec §4.2): sliding-window text
// splitting over section.Section values, with sentence-boundary snapping
// near the end of each window. Grounded on the teacher's
// internal/chunk/markdown_chunker.go (section-driven splitting, stable
// content-addressable IDs) generalized from token counts to raw character
// windows, since the spec's chunk_size/overlap are character-denominated.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/Aman-CERP/rcpretrieval/internal/section"
)

// Method identifies how a document's chunks were produced.
type Method string

const (
	MethodSection  Method = "section"
	MethodFallback Method = "fallback"
	MethodFlat     Method = "flat"
)

// Chunk is one retrievable unit of text with its provenance metadata.
type Chunk struct {
	ChunkID       string
	SourceID      string
	SectionNumber string
	SectionTitle  string
	ChunkIndex    int
	Text          string
	Method        Method
}

// Params configures the chunker, mirroring spec §4.2/§6.
type Params struct {
	ChunkSize      int
	Overlap        int
	ChunkBySection bool
}

var sentenceTerminator = regexp.MustCompile(`[.!?]\s|[.!?]$|\n`)

// Chunk splits sections into Chunks for sourceID per Params. If
// chunkBySection is false, section texts are concatenated (each prefixed
// with a sentinel title line) and windowed as one run, and chunk metadata
// carries only source_id and chunk_index.
func Chunk(sourceID string, sections []section.Section, p Params, chunkingMethod Method) []Chunk {
	if p.ChunkBySection {
		var out []Chunk
		for _, sec := range sections {
			windows := window(sec.Text, p.ChunkSize, p.Overlap)
			for i, w := range windows {
				out = append(out, Chunk{
					ChunkID:       chunkID(sourceID, sec.Number, i, w),
					SourceID:      sourceID,
					SectionNumber: sec.Number,
					SectionTitle:  sec.Title,
					ChunkIndex:    i,
					Text:          w,
					Method:        chunkingMethod,
				})
			}
		}
		return out
	}

	var combined strings.Builder
	for _, sec := range sections {
		if sec.Title != "" {
			combined.WriteString(sec.Title)
			combined.WriteString("\n")
		}
		combined.WriteString(sec.Text)
		combined.WriteString("\n")
	}

	var out []Chunk
	windows := window(combined.String(), p.ChunkSize, p.Overlap)
	for i, w := range windows {
		out = append(out, Chunk{
			ChunkID:    chunkID(sourceID, "", i, w),
			SourceID:   sourceID,
			ChunkIndex: i,
			Text:       w,
			Method:     chunkingMethod,
		})
	}
	return out
}

// window implements spec §4.2's sliding-window algorithm over a single
// text run: chunk_size characters advancing by chunk_size-overlap, with
// the last window merged into the previous chunk if its remainder is
// smaller than chunk_size/4, and sentence-boundary snapping within the
// last 15% of every window.
func window(text string, chunkSize, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}

	stride := chunkSize - overlap
	if stride <= 0 {
		stride = chunkSize
	}

	var windows []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToSentence(runes, start, end)
		}

		windows = append(windows, strings.TrimSpace(string(runes[start:end])))

		if end >= len(runes) {
			break
		}
		start += stride
	}

	// Merge a short trailing remainder into the previous chunk rather than
	// leaving an orphan fragment smaller than a quarter window.
	if len(windows) >= 2 {
		last := windows[len(windows)-1]
		if len([]rune(last)) < chunkSize/4 {
			merged := strings.TrimSpace(windows[len(windows)-2] + " " + last)
			windows = windows[:len(windows)-2]
			windows = append(windows, merged)
		}
	}
	return windows
}

// snapToSentence looks for a sentence terminator or newline within the last
// 15% of the [start,end) window and, if found, breaks there instead.
func snapToSentence(runes []rune, start, end int) int {
	windowLen := end - start
	lastPortion := int(float64(windowLen) * 0.85)
	searchFrom := start + lastPortion
	if searchFrom < start {
		searchFrom = start
	}

	segment := string(runes[searchFrom:end])
	locs := sentenceTerminator.FindAllStringIndex(segment, -1)
	if len(locs) == 0 {
		return end
	}
	last := locs[len(locs)-1]
	// byte offset -> rune offset within segment, then back into the full slice
	breakAt := searchFrom + len([]rune(segment[:last[1]]))
	if breakAt <= start {
		return end
	}
	return breakAt
}

// chunkID derives a deterministic, content-addressable identifier from the
// (source_id, section_number, chunk_index) tuple plus the chunk's own text,
// the same scheme as the teacher's generateChunkID: stable across re-runs of
// identical input, distinct whenever the content differs.
func chunkID(sourceID, sectionNumber string, chunkIndex int, text string) string {
	contentHash := sha256.Sum256([]byte(text))
	contentHashStr := hex.EncodeToString(contentHash[:])[:16]
	input := fmt.Sprintf("%s:%s:%d:%s", sourceID, sectionNumber, chunkIndex, contentHashStr)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}
