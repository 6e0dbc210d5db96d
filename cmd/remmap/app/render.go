package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi            = 120.0
	fontSize       = 10.0
	tickMarkLength = 5
	pixelsPerLabel = 120.0

	defaultCellPixels = 32

	// Default border sizes in pixels
	defaultTopBorder    = 20
	defaultLeftBorder   = 80
	defaultBottomBorder = 70
	defaultRightBorder  = 110

	legendWidth = 20

	defaultDatetimeFormat = time.DateTime
)

var (
	gridLineColor = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	emptyColor    = color.RGBA{R: 0xf4, G: 0xf4, B: 0xf4, A: 0xff}
)

// BorderConfig defines the sizes of white space around the map
type BorderConfig struct {
	Top    int
	Left   int // Space for the Y scale
	Bottom int // Space for the X scale and the information bar
	Right  int // Space for the colour legend
}

// RenderConfig holds all configuration options of the map rendering
type RenderConfig struct {
	CellPixels     int            // Side of one grid cell in pixels
	Aggregation    Aggregation    // How observations of one cell are combined
	DatetimeFormat string         // Format string for date/time display
	Location       *time.Location // Timezone for time display

	FontSize      float64
	ColorTheme    ColorTheme
	ColorMapSize  int // Number of colours in the gradient (0 for default)
	NoAnnotations bool

	BorderConfig BorderConfig
}

// MapRenderer draws a Grid as a heat map with scales and a colour legend
type MapRenderer struct {
	config RenderConfig
}

// NewMapRenderer creates a new map renderer with the given configuration
func NewMapRenderer(config RenderConfig) (*MapRenderer, error) {
	if config.CellPixels <= 0 {
		config.CellPixels = defaultCellPixels
	}
	if config.Aggregation == "" {
		config.Aggregation = AggregateMax
	}
	if config.Aggregation != AggregateMax && config.Aggregation != AggregateMean {
		return nil, fmt.Errorf("unknown aggregation: %s", config.Aggregation)
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}

	if config.NoAnnotations {
		config.BorderConfig = BorderConfig{}
	} else {
		if config.BorderConfig.Top == 0 {
			config.BorderConfig.Top = defaultTopBorder
		}
		if config.BorderConfig.Left == 0 {
			config.BorderConfig.Left = defaultLeftBorder
		}
		if config.BorderConfig.Bottom == 0 {
			config.BorderConfig.Bottom = defaultBottomBorder
		}
		if config.BorderConfig.Right == 0 {
			config.BorderConfig.Right = defaultRightBorder
		}
	}

	return &MapRenderer{config: config}, nil
}

// MapArea returns the rectangle the cells of g are drawn into
func (r *MapRenderer) MapArea(g *Grid) image.Rectangle {
	return image.Rect(
		r.config.BorderConfig.Left,
		r.config.BorderConfig.Top,
		r.config.BorderConfig.Left+g.Cols*r.config.CellPixels,
		r.config.BorderConfig.Top+g.Rows*r.config.CellPixels,
	)
}

// Render creates an image of the grid with annotations
func (r *MapRenderer) Render(g *Grid, bounds SignalBounds) (*image.RGBA, error) {
	area := r.MapArea(g)
	fullWidth := area.Max.X + r.config.BorderConfig.Right
	fullHeight := area.Max.Y + r.config.BorderConfig.Bottom

	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	colorMap := NewColorMapper(r.config.ColorTheme, bounds, r.config.ColorMapSize)
	r.renderCells(img, area, g, colorMap)

	if r.config.NoAnnotations {
		return img, nil
	}

	ann, err := newAnnotator(r.config)
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	if err = ann.annotate(img, area, g, colorMap); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}

	return img, nil
}

func (r *MapRenderer) renderCells(img *image.RGBA, area image.Rectangle, g *Grid, colorMap *ColorMapper) {
	px := r.config.CellPixels

	for row, cells := range g.Cells {
		for col, cell := range cells {
			rect := image.Rect(
				area.Min.X+col*px,
				area.Min.Y+row*px,
				area.Min.X+(col+1)*px,
				area.Min.Y+(row+1)*px,
			)

			var c color.Color = emptyColor
			if cell != nil {
				c = colorMap.Color(cell.Value(r.config.Aggregation))
			}
			draw.Draw(img, rect, image.NewUniform(c), image.Point{}, draw.Src)
		}
	}

	// cell outlines
	if px < 4 {
		return
	}
	for x := area.Min.X; x <= area.Max.X; x += px {
		for y := area.Min.Y; y < area.Max.Y; y++ {
			img.Set(x, y, gridLineColor)
		}
	}
	for y := area.Min.Y; y <= area.Max.Y; y += px {
		for x := area.Min.X; x < area.Max.X; x++ {
			img.Set(x, y, gridLineColor)
		}
	}
}

type annotator struct {
	context  *freetype.Context
	config   RenderConfig
	fontFace font.Face
}

func newAnnotator(config RenderConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, area image.Rectangle, g *Grid, colorMap *ColorMapper) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawXScale(img, area, g); err != nil {
		return fmt.Errorf("drawing X scale: %w", err)
	}
	if err := a.drawYScale(img, area, g); err != nil {
		return fmt.Errorf("drawing Y scale: %w", err)
	}
	if err := a.drawLegend(img, area, colorMap); err != nil {
		return fmt.Errorf("drawing legend: %w", err)
	}
	if err := a.drawInfoBar(img, g, colorMap.Bounds()); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}

	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawXScale(img *image.RGBA, area image.Rectangle, g *Grid) error {
	extent := float64(g.Cols) * g.CellSize
	step := calculateNiceStep(extent, area.Dx())
	pxPerMeter := float64(a.config.CellPixels) / g.CellSize

	textY := area.Max.Y + tickMarkLength + a.fontHeight()

	for d := 0.0; d <= extent+1e-9; d += step {
		x := area.Min.X + int(math.Round(d*pxPerMeter))

		for y := area.Max.Y; y < area.Max.Y+tickMarkLength; y++ {
			img.Set(x, y, color.Black)
		}

		label := formatMeters(g.MinX + d)
		width := font.MeasureString(a.fontFace, label).Round()
		if _, err := a.context.DrawString(label, freetype.Pt(x-width/2, textY)); err != nil {
			return fmt.Errorf("drawing X label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawYScale(img *image.RGBA, area image.Rectangle, g *Grid) error {
	extent := float64(g.Rows) * g.CellSize
	step := calculateNiceStep(extent, area.Dy())
	pxPerMeter := float64(a.config.CellPixels) / g.CellSize

	metrics := a.fontFace.Metrics()
	half := a.fontHeight()/2 - metrics.Descent.Round()

	for d := 0.0; d <= extent+1e-9; d += step {
		y := area.Max.Y - int(math.Round(d*pxPerMeter))

		for x := area.Min.X - tickMarkLength; x < area.Min.X; x++ {
			img.Set(x, y, color.Black)
		}

		label := formatMeters(g.MinY + d)
		width := font.MeasureString(a.fontFace, label).Round()
		pt := freetype.Pt(area.Min.X-tickMarkLength-3-width, y+half)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing Y label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawLegend(img *image.RGBA, area image.Rectangle, colorMap *ColorMapper) error {
	bounds := colorMap.Bounds()
	left := area.Max.X + 15
	height := area.Dy()

	for y := 0; y < height; y++ {
		rssi := bounds.Max - float64(y)/float64(max(height-1, 1))*bounds.Span()
		c := colorMap.Color(rssi)
		for x := left; x < left+legendWidth; x++ {
			img.Set(x, area.Min.Y+y, c)
		}
	}

	metrics := a.fontFace.Metrics()
	labels := []struct {
		rssi float64
		y    int
	}{
		{bounds.Max, area.Min.Y + metrics.Ascent.Round()},
		{bounds.Min, area.Max.Y},
	}
	for _, l := range labels {
		pt := freetype.Pt(left+legendWidth+4, l.y)
		if _, err := a.context.DrawString(fmt.Sprintf("%.0f dBm", l.rssi), pt); err != nil {
			return fmt.Errorf("drawing legend label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, g *Grid, bounds SignalBounds) error {
	lines := []string{
		fmt.Sprintf("Time: %s - %s",
			g.TimestampStart.In(a.config.Location).Format(a.config.DatetimeFormat),
			g.TimestampEnd.In(a.config.Location).Format(a.config.DatetimeFormat)),
		strings.Join([]string{
			humanize.Comma(int64(g.Measurements)) + " measurements",
			humanize.Comma(int64(g.Networks)) + " networks",
			humanize.Comma(int64(g.Scans)) + " scans",
			"cell " + formatMeters(g.CellSize),
			fmt.Sprintf("%s RSSI %.0f to %.0f dBm", a.config.Aggregation, bounds.Min, bounds.Max),
		}, "; "),
	}

	metrics := a.fontFace.Metrics()
	lineHeight := a.fontHeight()
	textY := img.Bounds().Max.Y - len(lines)*lineHeight - metrics.Descent.Round() + lineHeight/2

	for _, line := range lines {
		pt := freetype.Pt(a.config.BorderConfig.Left, textY)
		if _, err := a.context.DrawString(line, pt); err != nil {
			return fmt.Errorf("drawing info text: %w", err)
		}
		textY += lineHeight
	}

	return nil
}

// calculateNiceStep picks a label step in meters giving roughly one label per pixelsPerLabel
func calculateNiceStep(extent float64, width int) float64 {
	steps := []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}

	desiredSteps := math.Max(float64(width)/pixelsPerLabel, 1)
	targetStep := extent / desiredSteps

	for _, step := range steps {
		if step >= targetStep {
			return step
		}
	}
	return steps[len(steps)-1]
}

func formatMeters(v float64) string {
	if math.Abs(v) < 1e-9 {
		v = 0
	}
	return humanize.FtoaWithDigits(v, 2) + " m"
}
