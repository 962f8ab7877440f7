package outline

import (
	"bytes"
	"encoding/json"
	"io"
)

// Entry is one heading of the rendered outline. Page is 1-based.
type Entry struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
	Page  int    `json:"page"`
}

// Document is the externally visible result: a title plus ordered headings.
type Document struct {
	Title   string  `json:"title"`
	Outline []Entry `json:"outline"`
}

// Render builds the Document from levelled lines. The title is the text of
// the first Title line; headings keep input order.
func Render(lines []Line) Document {
	doc := Document{Outline: []Entry{}}
	titled := false
	for _, l := range lines {
		switch {
		case l.Level == LevelTitle && !titled:
			doc.Title = l.Text
			titled = true
		case l.Level.IsHeading():
			doc.Outline = append(doc.Outline, Entry{Level: l.Level, Text: l.Text, Page: l.Page + 1})
		}
	}
	return doc
}

// Counts returns the number of outline entries per level.
func (d Document) Counts() map[Level]int {
	m := make(map[Level]int, len(rankedLevels))
	for _, e := range d.Outline {
		m[e.Level]++
	}
	return m
}

// WriteJSON writes the document as indented JSON without HTML escaping.
func (d Document) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(d)
}

// MarshalIndent returns the same bytes WriteJSON would write.
func (d Document) MarshalIndent() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.WriteJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
