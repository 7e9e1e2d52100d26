package canvas

import (
	"math"
	"strings"

	"genui-canvas/core"

	"github.com/mattn/go-runewidth"
)

const (
	// MinCardHeight keeps short answers from collapsing the card.
	MinCardHeight = 300
	// DefaultHeightThreshold absorbs sub-pixel layout jitter.
	DefaultHeightThreshold = 10
)

// Measurer reports how tall a card's rendered content is, in page units,
// at the card's current width.
type Measurer interface {
	Measure(card *core.CardProps) float64
}

// MeasureFunc adapts a function to Measurer.
type MeasureFunc func(card *core.CardProps) float64

func (f MeasureFunc) Measure(card *core.CardProps) float64 { return f(card) }

// TextMeasurer estimates rendered height by wrapping content on display
// width: wide runes count double, so CJK content grows the card as it would
// on screen.
type TextMeasurer struct {
	CharWidth  float64
	LineHeight float64
	Padding    float64
}

// DefaultMeasurer approximates the card renderer's body text.
var DefaultMeasurer = TextMeasurer{CharWidth: 8, LineHeight: 20, Padding: 16}

func (m TextMeasurer) Measure(card *core.CardProps) float64 {
	content := card.ContentString()
	if content == "" {
		return 0
	}

	cols := int((card.W - 2*m.Padding) / m.CharWidth)
	if cols < 1 {
		cols = 1
	}

	lines := 0
	for _, line := range strings.Split(content, "\n") {
		width := runewidth.StringWidth(line)
		lines += max(1, int(math.Ceil(float64(width)/float64(cols))))
	}
	return float64(lines)*m.LineHeight + 2*m.Padding
}

// requiredHeight never drops below minHeight.
func requiredHeight(m Measurer, card *core.CardProps, minHeight float64) float64 {
	return math.Max(minHeight, m.Measure(card))
}
