package raster

import "math"

// Mask is a binary raster sharing a grid's georeference.
type Mask struct {
	Width     int
	Height    int
	OriginX   float64
	OriginY   float64
	PixelSize float64
	Cells     []bool
}

// NewMask allocates an all-false mask with the grid's georeference.
func NewMask(g *Grid) *Mask {
	return &Mask{
		Width: g.Width, Height: g.Height,
		OriginX: g.OriginX, OriginY: g.OriginY,
		PixelSize: g.PixelSize,
		Cells:     make([]bool, g.Width*g.Height),
	}
}

// At returns the mask value at column x, row y.
func (m *Mask) At(x, y int) bool { return m.Cells[y*m.Width+x] }

// Set writes the mask value at column x, row y.
func (m *Mask) Set(x, y int, v bool) { m.Cells[y*m.Width+x] = v }

// Count returns the number of true cells.
func (m *Mask) Count() int {
	n := 0
	for _, c := range m.Cells {
		if c {
			n++
		}
	}
	return n
}

// And intersects two masks in place and returns m. Masks of different
// shape share no cells, so the intersection is empty.
func (m *Mask) And(o *Mask) *Mask {
	if m.Width != o.Width || m.Height != o.Height {
		for i := range m.Cells {
			m.Cells[i] = false
		}
		return m
	}
	for i := range m.Cells {
		m.Cells[i] = m.Cells[i] && o.Cells[i]
	}
	return m
}

// LessThan masks pixels with value < t. NaN never matches.
func LessThan(g *Grid, t float64) *Mask {
	m := NewMask(g)
	for i, v := range g.Data {
		m.Cells[i] = !math.IsNaN(v) && v < t
	}
	return m
}

// GreaterThan masks pixels with value > t. NaN never matches.
func GreaterThan(g *Grid, t float64) *Mask {
	m := NewMask(g)
	for i, v := range g.Data {
		m.Cells[i] = !math.IsNaN(v) && v > t
	}
	return m
}

// AreaHa sums per-pixel geodesic area over the true cells, in hectares.
func (m *Mask) AreaHa() float64 {
	var total float64
	for y := 0; y < m.Height; y++ {
		lat := (m.OriginY - (float64(y)+0.5)*m.PixelSize) * math.Pi / 180
		wMeters := m.PixelSize * metersPerDegLon * math.Cos(lat)
		hMeters := m.PixelSize * metersPerDegLat
		pixelHa := wMeters * hMeters / 10000
		for x := 0; x < m.Width; x++ {
			if m.At(x, y) {
				total += pixelHa
			}
		}
	}
	return total
}

// ConnectedFilter removes connected components (4-connectivity) smaller
// than minSize pixels. Suppresses single-pixel sensor noise from being
// reported as detections.
func ConnectedFilter(m *Mask, minSize int) *Mask {
	if minSize <= 1 {
		return m
	}

	out := &Mask{
		Width: m.Width, Height: m.Height,
		OriginX: m.OriginX, OriginY: m.OriginY,
		PixelSize: m.PixelSize,
		Cells:     make([]bool, len(m.Cells)),
	}

	visited := make([]bool, len(m.Cells))
	var stack []int
	component := make([]int, 0, minSize)

	for start := range m.Cells {
		if !m.Cells[start] || visited[start] {
			continue
		}

		// Flood fill one component.
		component = component[:0]
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, idx)

			x, y := idx%m.Width, idx/m.Width
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= m.Width || ny >= m.Height {
					continue
				}
				nidx := ny*m.Width + nx
				if m.Cells[nidx] && !visited[nidx] {
					visited[nidx] = true
					stack = append(stack, nidx)
				}
			}
		}

		if len(component) >= minSize {
			for _, idx := range component {
				out.Cells[idx] = true
			}
		}
	}

	return out
}
