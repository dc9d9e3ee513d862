package html2pdf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

// Page format constants.
const (
	FormatLetter  = "letter"
	FormatLegal   = "legal"
	FormatTabloid = "tabloid"
	FormatA3      = "a3"
	FormatA4      = "a4"
	FormatA5      = "a5"
)

// paperSizes holds width and height in inches.
var paperSizes = map[string][2]float64{
	FormatLetter:  {8.5, 11},
	FormatLegal:   {8.5, 14},
	FormatTabloid: {11, 17},
	FormatA3:      {11.69, 16.54},
	FormatA4:      {8.27, 11.69},
	FormatA5:      {5.83, 8.27},
}

// CSS length units in inches.
var unitsPerInch = map[string]float64{
	"px": 96,
	"in": 1,
	"cm": 2.54,
	"mm": 25.4,
	"pt": 72,
	"pc": 6,
}

// Margins holds CSS lengths such as "5px" or "1cm".
type Margins struct {
	Top    string
	Right  string
	Bottom string
	Left   string
}

// PDFOptions configures the export of a rendering context.
type PDFOptions struct {
	Format            string
	Margin            Margins
	PrintBackground   bool
	PreferCSSPageSize bool // an in-document @page size wins over Format
}

// DefaultPDFOptions returns A4 with 5px margins and background printing.
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		Format:            FormatA4,
		Margin:            Margins{Top: "5px", Right: "5px", Bottom: "5px", Left: "5px"},
		PrintBackground:   true,
		PreferCSSPageSize: true,
	}
}

// Validate checks the format and every margin.
func (o PDFOptions) Validate() error {
	if _, ok := paperSizes[strings.ToLower(o.Format)]; !ok {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidPDFOptions, o.Format)
	}
	for _, m := range []string{o.Margin.Top, o.Margin.Right, o.Margin.Bottom, o.Margin.Left} {
		if _, err := ParseLength(m); err != nil {
			return err
		}
	}
	return nil
}

// ParseLength converts a CSS length to inches. A bare number is read as
// pixels and an empty string as zero.
func ParseLength(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	unit := "px"
	num := s
	for u := range unitsPerInch {
		if strings.HasSuffix(s, u) {
			unit = u
			num = strings.TrimSpace(strings.TrimSuffix(s, u))
			break
		}
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: invalid length %q", ErrInvalidPDFOptions, s)
	}
	return v / unitsPerInch[unit], nil
}

// toProto builds the CDP print request. Options must have been validated.
func (o PDFOptions) toProto() *proto.PagePrintToPDF {
	size := paperSizes[strings.ToLower(o.Format)]
	top, _ := ParseLength(o.Margin.Top)
	right, _ := ParseLength(o.Margin.Right)
	bottom, _ := ParseLength(o.Margin.Bottom)
	left, _ := ParseLength(o.Margin.Left)

	return &proto.PagePrintToPDF{
		PaperWidth:        floatPtr(size[0]),
		PaperHeight:       floatPtr(size[1]),
		MarginTop:         floatPtr(top),
		MarginRight:       floatPtr(right),
		MarginBottom:      floatPtr(bottom),
		MarginLeft:        floatPtr(left),
		PrintBackground:   o.PrintBackground,
		PreferCSSPageSize: o.PreferCSSPageSize,
	}
}

// Viewport fixes the layout size of a rendering context.
type Viewport struct {
	Width             int
	Height            int
	DeviceScaleFactor float64
}

// DefaultViewport returns 1200x800 at scale 1.
func DefaultViewport() Viewport {
	return Viewport{Width: 1200, Height: 800, DeviceScaleFactor: 1}
}

func (v Viewport) toProto() *proto.EmulationSetDeviceMetricsOverride {
	return &proto.EmulationSetDeviceMetricsOverride{
		Width:             v.Width,
		Height:            v.Height,
		DeviceScaleFactor: v.DeviceScaleFactor,
	}
}

// floatPtr returns a pointer to a float64 value.
func floatPtr(v float64) *float64 {
	return &v
}
