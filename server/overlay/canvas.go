package overlay

import (
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/buddywatch/buddywatch/server/defs"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Label drawn above every box. The detection backend only detects people.
const Label = "person"

// Canvas is the transparent render surface that sits on top of the camera view.
// Every render starts from a blank surface, so at most one box is visible at a time.
type Canvas struct {
	lock      sync.Mutex
	width     int
	height    int
	dc        *gg.Context
	threshold float64
	stats     Stats
}

type Stats struct {
	Draws   int64 `json:"draws"`   // Number of boxes drawn
	Clears  int64 `json:"clears"`  // Number of times the surface was wiped without drawing
	Version int64 `json:"version"` // Increments whenever the surface changes
}

func NewCanvas(width, height int, threshold float64) *Canvas {
	dc := gg.NewContext(width, height)
	dc.SetFontFace(basicfont.Face7x13)
	return &Canvas{
		width:     width,
		height:    height,
		dc:        dc,
		threshold: defs.ClampDrawThreshold(threshold),
	}
}

func (c *Canvas) Size() (width, height int) {
	return c.width, c.height
}

// SetThreshold changes the draw threshold, clamped to the allowed range, and returns the value that was applied
func (c *Canvas) SetThreshold(v float64) float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.threshold = defs.ClampDrawThreshold(v)
	return c.threshold
}

func (c *Canvas) Threshold() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.threshold
}

// Render wipes the surface, and draws the detection if its confidence exceeds the draw threshold.
// Returns true if a box was drawn.
func (c *Canvas) Render(det defs.Detection) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.wipe()
	c.stats.Version++
	if !det.Success || det.Confidence <= c.threshold {
		c.stats.Clears++
		return false
	}

	x, y, w, h := det.Box.Scale(c.width, c.height)
	dc := c.dc
	dc.SetRGBA255(0xFF, 0x0F, 0x0F, 102) // #FF0F0F at 40%
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()

	dc.SetRGBA255(0xFF, 0x0F, 0x0F, 255)
	dc.SetLineWidth(2)
	dc.DrawRectangle(x, y, w, h)
	dc.Stroke()

	labelY := y - 4
	if labelY < 12 {
		// No room above the box, so put the label inside it
		labelY = y + 14
	}
	dc.SetRGB(1, 1, 1)
	dc.DrawString(Label, x+3, labelY)

	c.stats.Draws++
	return true
}

// Clear wipes the surface
func (c *Canvas) Clear() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.wipe()
	c.stats.Clears++
	c.stats.Version++
}

func (c *Canvas) wipe() {
	c.dc.SetRGBA(0, 0, 0, 0)
	c.dc.Clear()
}

func (c *Canvas) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.stats
}

// Image returns a copy of the surface
func (c *Canvas) Image() *image.RGBA {
	c.lock.Lock()
	defer c.lock.Unlock()
	src := c.dc.Image().(*image.RGBA)
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// WritePNG encodes the surface as a PNG with an alpha channel
func (c *Canvas) WritePNG(w io.Writer) error {
	return png.Encode(w, c.Image())
}
