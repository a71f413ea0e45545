// Package markup turns raw message text into typed display segments.
// It is a pure transform with no state: rendering the same text always
// yields the same segments, and text with no markup comes back as a single
// plain segment.
package markup

import "regexp"

// SegmentKind identifies how a segment is displayed.
type SegmentKind string

const (
	SegmentPlain  SegmentKind = "plain"
	SegmentBold   SegmentKind = "bold"
	SegmentItalic SegmentKind = "italic"
	SegmentCode   SegmentKind = "code"
	SegmentLink   SegmentKind = "link"
	SegmentImage  SegmentKind = "image"
)

// Segment is one typed run of message text. Text holds the display text
// (markup delimiters stripped); URL is set for link and image segments.
type Segment struct {
	Kind SegmentKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	URL  string      `json:"url,omitempty"`
}

var (
	// A message that is a single image URL renders as one full-size image,
	// not an inline link. Direct image/GIF files plus the media hosts the
	// GIF picker produces.
	imageURLPattern = regexp.MustCompile(`^https?://\S+\.(?:png|jpe?g|gif|webp)(?:\?\S*)?$|^https?://(?:media\.giphy\.com|media\.tenor\.com|[a-z0-9.-]*tenor\.com)/\S+$`)

	// Inline tokens, earliest match wins. Order matters: code before bold
	// before italic so `**x**` is not consumed as two italics.
	tokenPattern = regexp.MustCompile("`([^`]+)`|\\*\\*([^*]+)\\*\\*|\\*([^*]+)\\*|(https?://[^\\s<>]+)")
)

// Render splits text into an ordered list of typed segments.
func Render(text string) []Segment {
	if text == "" {
		return nil
	}

	if imageURLPattern.MatchString(text) {
		return []Segment{{Kind: SegmentImage, URL: text}}
	}

	var segments []Segment
	pos := 0
	for _, m := range tokenPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if start > pos {
			segments = append(segments, Segment{Kind: SegmentPlain, Text: text[pos:start]})
		}

		switch {
		case m[2] >= 0: // inline code
			segments = append(segments, Segment{Kind: SegmentCode, Text: text[m[2]:m[3]]})
		case m[4] >= 0: // bold
			segments = append(segments, Segment{Kind: SegmentBold, Text: text[m[4]:m[5]]})
		case m[6] >= 0: // italic
			segments = append(segments, Segment{Kind: SegmentItalic, Text: text[m[6]:m[7]]})
		case m[8] >= 0: // link
			url := text[m[8]:m[9]]
			segments = append(segments, Segment{Kind: SegmentLink, Text: url, URL: url})
		}
		pos = end
	}

	if pos < len(text) {
		segments = append(segments, Segment{Kind: SegmentPlain, Text: text[pos:]})
	}
	return segments
}
