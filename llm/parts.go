package llm

import "strings"

// Image is an encoded image attached to a model call.
type Image struct {
	MIMEType string
	Data     []byte
}

// Part is one element of a multimodal prompt. Exactly one of Text and
// Image is set.
type Part struct {
	Text  string
	Image *Image
}

// TextPart returns a text part.
func TextPart(s string) Part {
	return Part{Text: s}
}

// ImagePart returns an image part.
func ImagePart(mimeType string, data []byte) Part {
	return Part{Image: &Image{MIMEType: mimeType, Data: data}}
}

// IsImage reports whether the part carries an image.
func (p Part) IsImage() bool {
	return p.Image != nil
}

// PromptText joins the text parts of a prompt with blank lines.
func PromptText(parts []Part) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if !p.IsImage() && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// ImageCount returns the number of image parts.
func ImageCount(parts []Part) int {
	n := 0
	for _, p := range parts {
		if p.IsImage() {
			n++
		}
	}
	return n
}
