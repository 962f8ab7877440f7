package outline

// Level is the outline rank assigned to a line. The zero value means the
// line carries no rank.
type Level string

const (
	LevelNone  Level = ""
	LevelTitle Level = "Title"
	LevelH1    Level = "H1"
	LevelH2    Level = "H2"
	LevelH3    Level = "H3"
)

// rankedLevels maps font-size rank (0 = largest) to heading level.
var rankedLevels = [...]Level{LevelH1, LevelH2, LevelH3}

// IsHeading reports whether the level belongs in the outline list.
func (l Level) IsHeading() bool {
	return l == LevelH1 || l == LevelH2 || l == LevelH3
}

// Valid reports whether l is one of the known levels, including LevelNone.
func (l Level) Valid() bool {
	switch l {
	case LevelNone, LevelTitle, LevelH1, LevelH2, LevelH3:
		return true
	}
	return false
}

// Line is one visually distinct text run extracted from a page.
type Line struct {
	Page     int        `json:"page"`
	Text     string     `json:"text"`
	BBox     [4]float64 `json:"bbox"`
	FontSize float64    `json:"font_size"`
	FontName string     `json:"font_name"`
	IsBold   bool       `json:"is_bold"`

	Prob   float64 `json:"prob"`
	IsHead bool    `json:"is_head"`
	Level  Level   `json:"level,omitempty"`
}

// X0 is the left edge of the line's bounding box.
func (l Line) X0() float64 { return l.BBox[0] }
