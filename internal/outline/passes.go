package outline

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Numbering patterns, most specific first. Text is tested with a trailing
// space appended so a bare "4.1" still matches.
var numberingPatterns = []struct {
	re    *regexp.Regexp
	level Level
}{
	{regexp.MustCompile(`^\d+\.\d+\.\d+\s`), LevelH3},
	{regexp.MustCompile(`^\d+\.\d+\s`), LevelH2},
	{regexp.MustCompile(`^\d+\.\s`), LevelH1},
}

// taglineRegex matches all-caps text such as a logo strapline.
var taglineRegex = regexp.MustCompile(`^[A-Z0-9\s\-]+$`)

// NumberingLevel returns the level implied by an outline number prefix
// ("1.", "1.2", "1.2.3"), or LevelNone.
func NumberingLevel(text string) Level {
	t := strings.TrimSpace(text) + " "
	for _, p := range numberingPatterns {
		if p.re.MatchString(t) {
			return p.level
		}
	}
	return LevelNone
}

// gate attaches probabilities, resets levels and returns the indices of the
// lines that pass both the noise filter and the threshold.
func gate(cfg Config, lines []Line, probs []float64) []int {
	var heads []int
	for i := range lines {
		lines[i].Prob = probs[i]
		lines[i].Level = LevelNone
		lines[i].IsHead = !IsNoise(cfg, lines[i].Text) && probs[i] >= cfg.HeadingThreshold
		if lines[i].IsHead {
			heads = append(heads, i)
		}
	}
	return heads
}

// demoteRepeated drops running headers and footers: short text that occurs
// among the candidates at least RepeatMinCount times.
func demoteRepeated(cfg Config, lines []Line, heads []int) []int {
	counts := make(map[string]int, len(heads))
	for _, i := range heads {
		counts[strings.TrimSpace(lines[i].Text)]++
	}
	kept := make([]int, 0, len(heads))
	for _, i := range heads {
		key := strings.TrimSpace(lines[i].Text)
		if counts[key] >= cfg.RepeatMinCount && len(strings.Fields(key)) <= cfg.RepeatMaxWords {
			lines[i].IsHead = false
			lines[i].Level = LevelNone
			continue
		}
		kept = append(kept, i)
	}
	return kept
}

// classifyNumbered levels candidates by their numbering prefix and returns
// how many were levelled.
func classifyNumbered(lines []Line, heads []int) int {
	n := 0
	for _, i := range heads {
		if lines[i].Level != LevelNone {
			continue
		}
		if lvl := NumberingLevel(lines[i].Text); lvl != LevelNone {
			lines[i].Level = lvl
			n++
		}
	}
	return n
}

// block is a run of consecutive title-page candidates sharing font size and
// x-bucket. members index into the engine's line slice.
type block struct {
	members  []int
	text     string
	fontSize float64
}

// xBucket snaps x0 to the grid; halves round to even.
func xBucket(x0, width float64) float64 {
	return math.RoundToEven(x0/width) * width
}

func mergeBlocks(cfg Config, lines []Line, idx []int) []block {
	var blocks []block
	var lastBucket float64
	for n, i := range idx {
		l := lines[i]
		bucket := xBucket(l.X0(), cfg.XBucketWidth)
		if n > 0 && l.FontSize == blocks[len(blocks)-1].fontSize && bucket == lastBucket {
			b := &blocks[len(blocks)-1]
			b.members = append(b.members, i)
			continue
		}
		blocks = append(blocks, block{members: []int{i}, fontSize: l.FontSize})
		lastBucket = bucket
	}
	for k := range blocks {
		b := &blocks[k]
		if len(b.members) == 1 {
			b.text = lines[b.members[0]].Text
			continue
		}
		parts := make([]string, len(b.members))
		for j, i := range b.members {
			parts[j] = strings.TrimSpace(lines[i].Text)
		}
		b.text = strings.Join(parts, " ")
	}
	return blocks
}

func isTagline(cfg Config, text string) bool {
	return taglineRegex.MatchString(text) && len(strings.Fields(text)) > cfg.TaglineMaxWords
}

// selectTitle picks the title from the lowest-indexed candidate page. Every
// line of every winning block receives LevelTitle and the unified text.
func selectTitle(cfg Config, lines []Line, heads []int) string {
	if len(heads) == 0 {
		return ""
	}
	titlePage := lines[heads[0]].Page
	for _, i := range heads {
		if lines[i].Page < titlePage {
			titlePage = lines[i].Page
		}
	}
	var pageHeads []int
	for _, i := range heads {
		if lines[i].Page == titlePage && lines[i].Level == LevelNone {
			pageHeads = append(pageHeads, i)
		}
	}
	if len(pageHeads) == 0 {
		return ""
	}

	blocks := mergeBlocks(cfg, lines, pageHeads)
	top := blocks[0].fontSize
	for _, b := range blocks[1:] {
		if b.fontSize > top {
			top = b.fontSize
		}
	}

	var winners []block
	for _, b := range blocks {
		if b.fontSize == top && !isTagline(cfg, b.text) {
			winners = append(winners, b)
		}
	}
	if len(winners) == 0 {
		return ""
	}

	parts := make([]string, len(winners))
	for k, b := range winners {
		parts[k] = strings.TrimSpace(b.text)
	}
	title := strings.Join(parts, " ")
	for _, b := range winners {
		for _, i := range b.members {
			lines[i].Level = LevelTitle
			lines[i].Text = title
		}
	}
	return title
}

// rankBySize maps the largest distinct font sizes of the still-unlevelled
// candidates to H1..H3. Candidates below the cut keep IsHead but no level.
func rankBySize(cfg Config, lines []Line, heads []int) int {
	seen := make(map[float64]struct{})
	var sizes []float64
	for _, i := range heads {
		if lines[i].Level != LevelNone {
			continue
		}
		if _, ok := seen[lines[i].FontSize]; !ok {
			seen[lines[i].FontSize] = struct{}{}
			sizes = append(sizes, lines[i].FontSize)
		}
	}
	if len(sizes) == 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sizes)))
	if len(sizes) > cfg.RankedLevels {
		sizes = sizes[:cfg.RankedLevels]
	}
	sizeLevel := make(map[float64]Level, len(sizes))
	for k, s := range sizes {
		sizeLevel[s] = rankedLevels[k]
	}

	n := 0
	for _, i := range heads {
		if lines[i].Level != LevelNone {
			continue
		}
		if lvl, ok := sizeLevel[lines[i].FontSize]; ok {
			lines[i].Level = lvl
			n++
		}
	}
	return n
}
