package overlay

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/buddywatch/buddywatch/server/defs"
	"github.com/stretchr/testify/require"
)

func TestRenderAboveThreshold(t *testing.T) {
	c := NewCanvas(680, 480, 0.8)
	drawn := c.Render(defs.Detection{Success: true, Confidence: 0.9, Box: defs.BBox{0.25, 0.25, 0.5, 0.75}})
	require.True(t, drawn)
	require.EqualValues(t, 1, c.Stats().Draws)

	img := c.Image()
	// Center of the box is tinted red
	px := img.RGBAAt(255, 240)
	require.NotZero(t, px.A)
	require.Greater(t, px.R, px.G)
	// Outside the box is transparent
	require.Zero(t, img.RGBAAt(600, 50).A)
}

func TestRenderBelowThreshold(t *testing.T) {
	c := NewCanvas(680, 480, 0.8)
	c.Render(defs.Detection{Success: true, Confidence: 0.95, Box: defs.BBox{0, 0, 1, 1}})
	// A low confidence result wipes the previous box and draws nothing
	drawn := c.Render(defs.Detection{Success: true, Confidence: 0.75, Box: defs.BBox{0, 0, 1, 1}})
	require.False(t, drawn)
	require.Zero(t, c.Image().RGBAAt(340, 240).A)
	s := c.Stats()
	require.EqualValues(t, 1, s.Draws)
	require.EqualValues(t, 1, s.Clears)
}

func TestThresholdIsTunable(t *testing.T) {
	c := NewCanvas(100, 100, 0)
	require.Equal(t, defs.DrawThresholdDefault, c.Threshold())
	require.Equal(t, 0.6, c.SetThreshold(0.2))
	require.True(t, c.Render(defs.Detection{Success: true, Confidence: 0.65, Box: defs.BBox{0.1, 0.1, 0.9, 0.9}}))
}

func TestClearAndPNG(t *testing.T) {
	c := NewCanvas(64, 48, 0.6)
	c.Render(defs.Detection{Success: true, Confidence: 0.99, Box: defs.BBox{0, 0, 1, 1}})
	v := c.Stats().Version
	c.Clear()
	require.Greater(t, c.Stats().Version, v)
	require.Zero(t, c.Image().RGBAAt(32, 24).A)

	buf := &bytes.Buffer{}
	require.NoError(t, c.WritePNG(buf))
	img, err := png.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, 64, img.Bounds().Dx())
}
