package app

import (
	"fmt"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme represents a predefined colour scheme for signal strength
type ColorTheme string

const (
	EnhancedTheme  ColorTheme = "enhanced"  // Black to blue to cyan to yellow to red
	ClassicTheme   ColorTheme = "classic"   // Blue to red
	GrayscaleTheme ColorTheme = "grayscale" // Black to white
	JungleTheme    ColorTheme = "jungle"    // Dark green to yellow
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
	MarineTheme    ColorTheme = "marine"    // Deep blue to cyan to white

	DefaultColorMapSize = 256
)

var validThemes = map[ColorTheme]struct{}{
	EnhancedTheme:  {},
	ClassicTheme:   {},
	GrayscaleTheme: {},
	JungleTheme:    {},
	ThermalTheme:   {},
	MarineTheme:    {},
}

// ParseColorTheme validates a theme name
func ParseColorTheme(name string) (ColorTheme, error) {
	theme := ColorTheme(name)
	if _, ok := validThemes[theme]; !ok {
		return "", fmt.Errorf("unknown colour theme: %s", name)
	}
	return theme, nil
}

// ColorMapper maps RSSI onto a pre-computed colour table
type ColorMapper struct {
	colorMap     []color.Color
	theme        func(float64) colorful.Color
	size         int
	bounds       SignalBounds
	rssiPerIndex float64
}

// NewColorMapper creates a new colour mapper with the given theme, bounds and table size
func NewColorMapper(theme ColorTheme, bounds SignalBounds, size int) *ColorMapper {
	if size <= 1 {
		size = DefaultColorMapSize
	}

	cm := &ColorMapper{
		colorMap: make([]color.Color, size),
		theme:    themeFunc(theme),
		size:     size,
	}
	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds updates the signal bounds and rebuilds the colour table
func (cm *ColorMapper) UpdateBounds(bounds SignalBounds) {
	cm.bounds = bounds
	cm.rssiPerIndex = bounds.Span() / float64(cm.size-1)

	for i := 0; i < cm.size; i++ {
		normalized := float64(i) / float64(cm.size-1)
		cm.colorMap[i] = cm.theme(normalized).Clamped()
	}
}

// Color returns the colour of the given RSSI, clamped to the bounds
func (cm *ColorMapper) Color(rssi float64) color.Color {
	if cm.rssiPerIndex <= 0 {
		return cm.colorMap[cm.size-1]
	}

	rssi = math.Max(cm.bounds.Min, math.Min(rssi, cm.bounds.Max))

	index := int((rssi - cm.bounds.Min) / cm.rssiPerIndex)
	if index < 0 {
		index = 0
	} else if index >= cm.size {
		index = cm.size - 1
	}

	return cm.colorMap[index]
}

// Bounds returns the bounds the colour table is built for
func (cm *ColorMapper) Bounds() SignalBounds {
	return cm.bounds
}

type gradientStop struct {
	color colorful.Color
	pos   float64
}

type gradient []gradientStop

// at blends the two stops surrounding t in the HCL space
func (g gradient) at(t float64) colorful.Color {
	for i := 0; i < len(g)-1; i++ {
		c1, c2 := g[i], g[i+1]
		if c1.pos <= t && t <= c2.pos {
			return c1.color.BlendHcl(c2.color, (t-c1.pos)/(c2.pos-c1.pos))
		}
	}
	return g[len(g)-1].color
}

func mustParseHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}

var (
	thermalGradient = gradient{
		{mustParseHex("#000000"), 0.0},
		{mustParseHex("#ff0000"), 0.33},
		{mustParseHex("#ffff00"), 0.66},
		{mustParseHex("#ffffff"), 1.0},
	}

	marineGradient = gradient{
		{mustParseHex("#08306b"), 0.0},
		{mustParseHex("#2171b5"), 0.4},
		{mustParseHex("#6baed6"), 0.7},
		{mustParseHex("#f7fbff"), 1.0},
	}
)

func themeFunc(theme ColorTheme) func(float64) colorful.Color {
	switch theme {
	case ClassicTheme:
		return func(p float64) colorful.Color {
			return colorful.Hsv(240-(p*240), 0.9+(p*0.1), math.Pow(p, 0.7))
		}

	case GrayscaleTheme:
		return func(p float64) colorful.Color {
			v := math.Pow(p, 0.7)
			return colorful.Color{R: v, G: v, B: v}
		}

	case JungleTheme:
		return func(p float64) colorful.Color {
			return colorful.Hsv(120-(p*60), 1.0, 0.3+(math.Pow(p, 0.6)*0.7))
		}

	case ThermalTheme:
		return thermalGradient.at

	case MarineTheme:
		return marineGradient.at

	default:
		return enhanced
	}
}

// enhanced gives a better differentiation in the weak signal range
func enhanced(p float64) colorful.Color {
	p = math.Max(0, math.Min(1, p))
	boosted := math.Pow(p, 0.7)

	switch {
	case p < 0.25:
		return colorful.Hsv(240, 1.0, math.Min(1, boosted*4))
	case p < 0.5:
		return colorful.Hsv(240-((p-0.25)*240), 1.0, math.Min(1, boosted*1.5))
	case p < 0.75:
		return colorful.Hsv(180-((p-0.5)*4*120), 1.0, math.Min(1, boosted*1.5))
	default:
		return colorful.Hsv(60-((p-0.75)*4*60), 1.0, 1.0)
	}
}
