// Package classify turns page embeddings into heading probabilities with a
// linear logistic head.
package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/local/pdfoutline/internal/outline"
)

var (
	ErrEmptyHead      = errors.New("heading head has no weights")
	ErrDimension      = errors.New("embedding dimension does not match head")
	ErrUnknownFormat  = errors.New("unknown head file format")
	ErrPageOutOfRange = errors.New("line page has no probability")
	ErrNonFiniteLogit = errors.New("non-finite logit")
)

// Head is a logistic regression over one embedding: sigmoid(x·W + b).
type Head struct {
	Weights []float64 `json:"weights" msgpack:"weights"`
	Bias    float64   `json:"bias" msgpack:"bias"`
}

// Dim is the embedding size the head expects.
func (h *Head) Dim() int { return len(h.Weights) }

// LoadHead reads head weights from path. ".msgpack"/".mp" files are
// MessagePack, ".json" files JSON. Either encoding may hold a
// {"weights","bias"} map or a flat array whose last element is the bias.
func LoadHead(path string) (*Head, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read head: %w", err)
	}

	var unmarshal func([]byte, any) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mp":
		unmarshal = msgpack.Unmarshal
	case ".json":
		unmarshal = json.Unmarshal
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Ext(path))
	}

	h, err := decodeHead(data, unmarshal)
	if err != nil {
		return nil, fmt.Errorf("decode head %s: %w", filepath.Base(path), err)
	}
	return h, nil
}

func decodeHead(data []byte, unmarshal func([]byte, any) error) (*Head, error) {
	var h Head
	if err := unmarshal(data, &h); err == nil {
		if len(h.Weights) == 0 {
			return nil, ErrEmptyHead
		}
		return &h, nil
	}
	var flat []float64
	if err := unmarshal(data, &flat); err != nil {
		return nil, err
	}
	if len(flat) < 2 {
		return nil, ErrEmptyHead
	}
	return &Head{Weights: flat[:len(flat)-1], Bias: flat[len(flat)-1]}, nil
}

// Predict returns one probability per embedding vector.
func (h *Head) Predict(vecs [][]float64) ([]float64, error) {
	if len(h.Weights) == 0 {
		return nil, ErrEmptyHead
	}
	probs := make([]float64, len(vecs))
	for i, v := range vecs {
		if len(v) != len(h.Weights) {
			return nil, fmt.Errorf("%w: page %d has %d, head wants %d", ErrDimension, i+1, len(v), len(h.Weights))
		}
		z := h.Bias
		for j, x := range v {
			z += x * h.Weights[j]
		}
		if math.IsNaN(z) {
			return nil, fmt.Errorf("%w on page %d", ErrNonFiniteLogit, i+1)
		}
		probs[i] = sigmoid(z)
	}
	return probs, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// Broadcast gives every line the probability of its page.
func Broadcast(pageProbs []float64, lines []outline.Line) ([]float64, error) {
	probs := make([]float64, len(lines))
	for i, l := range lines {
		if l.Page < 0 || l.Page >= len(pageProbs) {
			return nil, fmt.Errorf("%w: line %d on page %d of %d", ErrPageOutOfRange, i, l.Page, len(pageProbs))
		}
		probs[i] = pageProbs[l.Page]
	}
	return probs, nil
}
