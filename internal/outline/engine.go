// Package outline infers a document outline (Title, H1-H3) from extracted
// text lines and a per-page heading probability.
package outline

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Engine assigns Title/H1/H2/H3 levels to extracted lines. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger routes per-pass debug output to l.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine validates cfg and returns an engine bound to it.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, log: zerolog.Nop()}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Assign runs the five passes (gate, repetition, numbering, title, font
// rank) over a copy of lines and returns it. probs[i] belongs to lines[i].
// The input slice is left untouched.
func (e *Engine) Assign(lines []Line, probs []float64) ([]Line, error) {
	if len(lines) != len(probs) {
		return nil, &InputMismatchError{Lines: len(lines), Probs: len(probs)}
	}
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, fmt.Errorf("%w: probs[%d]=%v", ErrInvalidProbability, i, p)
		}
	}

	out := make([]Line, len(lines))
	copy(out, lines)

	heads := gate(e.cfg, out, probs)
	if len(heads) == 0 {
		e.log.Debug().Int("lines", len(out)).Msg("no heading candidates")
		return out, nil
	}
	candidates := len(heads)

	heads = demoteRepeated(e.cfg, out, heads)
	numbered := classifyNumbered(out, heads)
	title := selectTitle(e.cfg, out, heads)
	ranked := rankBySize(e.cfg, out, heads)

	e.log.Debug().
		Int("lines", len(out)).
		Int("candidates", candidates).
		Int("demoted", candidates-len(heads)).
		Int("numbered", numbered).
		Str("title", title).
		Int("ranked", ranked).
		Msg("levels assigned")

	return out, nil
}

// Assign is a convenience wrapper building a throwaway Engine for cfg.
func Assign(lines []Line, probs []float64, cfg Config) ([]Line, error) {
	e, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return e.Assign(lines, probs)
}
