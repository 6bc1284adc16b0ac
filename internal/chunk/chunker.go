// Package chunk splits normalized document text into bounded-size
// passages suitable for embedding and lexical indexing.
//
// The splitter finds natural boundaries first (markdown sections, then
// blank-line paragraphs, then sentences), packs segments toward a soft
// target size, and rolls undersized segments forward into their
// neighbors so that no low-information fragment is emitted on its own.
package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

// Size defaults in characters.
const (
	// DefaultTargetSize balances embedding-model context limits against
	// retrieval granularity.
	DefaultTargetSize = 2000
	// DefaultMaxSize is the hard cap; no emitted passage exceeds it.
	DefaultMaxSize = 2300
	// DefaultMinSize is the small-passage threshold below which a segment
	// rolls into a neighbor instead of being emitted.
	DefaultMinSize = 300
)

// separators are tried in order when an oversized segment must be split.
var separators = []string{"\n\n", ". ", "? ", "! ", "\n", " "}

// headerPattern matches markdown headers: # Title, ## Title, etc.
var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// frontmatterPattern matches a leading YAML frontmatter block.
var frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)

// Options configures the chunker.
type Options struct {
	TargetSize int // soft target per passage (default: DefaultTargetSize)
	MaxSize    int // hard cap per passage (default: DefaultMaxSize)
	MinSize    int // roll-forward threshold (default: DefaultMinSize)
}

// Chunker splits text into passages. It is stateless and safe for
// concurrent use.
type Chunker struct {
	opts Options
}

// New creates a chunker, filling unset options with defaults.
func New(opts Options) *Chunker {
	if opts.TargetSize <= 0 {
		opts.TargetSize = DefaultTargetSize
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MaxSize < opts.TargetSize {
		opts.MaxSize = opts.TargetSize
	}
	if opts.MinSize <= 0 {
		opts.MinSize = DefaultMinSize
	}
	return &Chunker{opts: opts}
}

// Chunk splits text into ordered passages. It is deterministic and has
// no side effects. Zero non-empty segments yields ErrEmptyContent.
func (c *Chunker) Chunk(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.New(apperrors.CodeEmptyContent, "content produced no passages", nil)
	}

	segments := c.naturalSegments(text)
	if len(segments) == 0 {
		return nil, apperrors.New(apperrors.CodeEmptyContent, "content produced no passages", nil)
	}

	// Oversized natural segments are split before packing.
	var bounded []string
	for _, seg := range segments {
		if utf8.RuneCountInString(seg) > c.opts.MaxSize {
			bounded = append(bounded, c.splitOversized(seg)...)
		} else {
			bounded = append(bounded, seg)
		}
	}

	return c.pack(bounded), nil
}

// naturalSegments splits text at its strongest natural boundaries:
// markdown sections when headers are present, blank-line paragraphs
// otherwise. Frontmatter becomes its own leading segment.
func (c *Chunker) naturalSegments(text string) []string {
	var segments []string

	if fm := frontmatterPattern.FindString(text); fm != "" {
		if trimmed := strings.TrimSpace(fm); trimmed != "" {
			segments = append(segments, trimmed)
		}
		text = text[len(fm):]
	}

	if headerPattern.MatchString(text) {
		segments = append(segments, splitSections(text)...)
		return segments
	}

	segments = append(segments, splitParagraphs(text)...)
	return segments
}

// splitSections splits markdown content at header lines. Content before
// the first header becomes its own segment.
func splitSections(text string) []string {
	lines := strings.Split(text, "\n")

	var sections []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sections = append(sections, s)
		}
		current.Reset()
	}

	for _, line := range lines {
		if headerPattern.MatchString(line) {
			flush()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return sections
}

// splitParagraphs splits plain text at blank lines.
func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, part := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// splitOversized splits a segment exceeding the hard cap at the
// strongest separator found inside the target window, falling back to a
// hard cut at the target size when no separator is present.
func (c *Chunker) splitOversized(seg string) []string {
	var out []string

	rest := []rune(seg)
	for len(rest) > c.opts.MaxSize {
		window := string(rest[:c.opts.TargetSize])

		cut := -1
		for _, sep := range separators {
			if idx := strings.LastIndex(window, sep); idx > 0 {
				cut = idx + len(sep)
				break
			}
		}
		if cut <= 0 {
			cut = len(window)
		}

		// cut is a byte offset into window; convert back to runes.
		head := window[:cut]
		if piece := strings.TrimSpace(head); piece != "" {
			out = append(out, piece)
		}
		rest = rest[utf8.RuneCountInString(head):]
	}

	if piece := strings.TrimSpace(string(rest)); piece != "" {
		out = append(out, piece)
	}
	return out
}

// pack walks the segments with an accumulation buffer. Adjacent segments
// merge while the result stays within the target, and any undersized
// segment on either side of a boundary merges as long as the hard cap
// holds. The final passage may legitimately be smaller than the target.
func (c *Chunker) pack(segments []string) []string {
	var out []string
	var buffer string

	size := utf8.RuneCountInString

	for _, seg := range segments {
		if buffer == "" {
			buffer = seg
			continue
		}

		merged := size(buffer) + 2 + size(seg) // +2 for the joining blank line
		eitherSmall := size(buffer) < c.opts.MinSize || size(seg) < c.opts.MinSize

		switch {
		case eitherSmall && merged <= c.opts.MaxSize:
			buffer = buffer + "\n\n" + seg
		case merged <= c.opts.TargetSize:
			buffer = buffer + "\n\n" + seg
		default:
			out = append(out, buffer)
			buffer = seg
		}
	}

	if buffer != "" {
		out = append(out, buffer)
	}
	return out
}
