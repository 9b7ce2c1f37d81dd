package defs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBBoxScale(t *testing.T) {
	b := BBox{0.25, 0.5, 0.75, 1}
	require.True(t, b.Valid())
	x, y, w, h := b.Scale(680, 480)
	require.Equal(t, 170.0, x)
	require.Equal(t, 240.0, y)
	require.Equal(t, 340.0, w)
	require.Equal(t, 240.0, h)

	require.False(t, BBox{0.5, 0, 0.4, 1}.Valid())
	require.False(t, BBox{0, 0, 1.2, 1}.Valid())
}

func TestIsHit(t *testing.T) {
	require.True(t, IsHit(0.71))
	require.False(t, IsHit(0.7))
	require.False(t, IsHit(0))
}

func TestBBoxCorners(t *testing.T) {
	b := BBox{0.1, 0.2, 0.5, 0.6}
	require.Equal(t, 0.1, b.XMin())
	require.Equal(t, 0.2, b.YMin())
	require.Equal(t, 0.5, b.XMax())
	require.Equal(t, 0.6, b.YMax())
	require.Equal(t, "[0.100,0.200,0.500,0.600]", b.String())
}

func TestClampDrawThreshold(t *testing.T) {
	require.Equal(t, DrawThresholdDefault, ClampDrawThreshold(0))
	require.Equal(t, 0.6, ClampDrawThreshold(0.1))
	require.Equal(t, 0.8, ClampDrawThreshold(0.95))
	require.Equal(t, 0.65, ClampDrawThreshold(0.65))
}
