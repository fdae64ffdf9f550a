package raster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThresholdMasks(t *testing.T) {
	g := gridFrom(4, 1, []float64{-0.2, 0.1, 0.5, math.NaN()})

	gt := GreaterThan(g, 0.0)
	assert.Equal(t, []bool{false, true, true, false}, gt.Cells)

	lt := LessThan(g, 0.2)
	assert.Equal(t, []bool{true, true, false, false}, lt.Cells)
}

func TestMaskAnd(t *testing.T) {
	g := gridFrom(3, 1, []float64{1, 1, 1})
	a := NewMask(g)
	b := NewMask(g)
	a.Cells = []bool{true, true, false}
	b.Cells = []bool{true, false, true}

	assert.Equal(t, []bool{true, false, false}, a.And(b).Cells)
	assert.Equal(t, 1, a.Count())
}

func TestMaskAndMismatchedShapeIsEmpty(t *testing.T) {
	a := NewMask(gridFrom(3, 1, []float64{1, 1, 1}))
	b := NewMask(gridFrom(2, 1, []float64{1, 1}))
	a.Cells = []bool{true, true, true}
	b.Cells = []bool{true, true}

	assert.Equal(t, 0, a.And(b).Count())
}

func TestConnectedFilterDropsSmallClusters(t *testing.T) {
	// 5x5 mask: one 4-pixel block and one isolated pixel.
	g := NewGrid(5, 5, -39, -7, 0.0001)
	m := NewMask(g)
	m.Set(0, 0, true)
	m.Set(1, 0, true)
	m.Set(0, 1, true)
	m.Set(1, 1, true)
	m.Set(4, 4, true)

	out := ConnectedFilter(m, 3)
	assert.Equal(t, 4, out.Count())
	assert.True(t, out.At(0, 0))
	assert.False(t, out.At(4, 4))
}

func TestConnectedFilterDiagonalIsNotConnected(t *testing.T) {
	g := NewGrid(4, 4, -39, -7, 0.0001)
	m := NewMask(g)
	// Diagonal chain: 4-connectivity sees three size-1 components.
	m.Set(0, 0, true)
	m.Set(1, 1, true)
	m.Set(2, 2, true)

	out := ConnectedFilter(m, 2)
	assert.Equal(t, 0, out.Count())
}

func TestConnectedFilterKeepsExactMinimum(t *testing.T) {
	g := NewGrid(15, 1, -39, -7, 0.0001)
	m := NewMask(g)
	for x := 0; x < 15; x++ {
		m.Set(x, 0, true)
	}

	assert.Equal(t, 15, ConnectedFilter(m, 15).Count())
	assert.Equal(t, 0, ConnectedFilter(m, 16).Count())
}

func TestConnectedFilterMinSizeOneIsIdentity(t *testing.T) {
	g := NewGrid(2, 1, -39, -7, 0.0001)
	m := NewMask(g)
	m.Set(1, 0, true)
	assert.Same(t, m, ConnectedFilter(m, 1))
}

func TestAreaHaMonotonic(t *testing.T) {
	g := NewGrid(10, 10, -39.0, -7.0, 0.0001)
	full := NewMask(g)
	sub := NewMask(g)
	for i := range full.Cells {
		full.Cells[i] = true
		sub.Cells[i] = i%2 == 0
	}

	assert.Greater(t, full.AreaHa(), sub.AreaHa())
	assert.GreaterOrEqual(t, sub.AreaHa(), 0.0)
	assert.Zero(t, NewMask(g).AreaHa())
}
