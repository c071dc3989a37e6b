// Package interp implements the multi-linear interpolation kernels used on
// the ray-tracing hot path: sampling a scalar grid at a real-valued
// position, and depositing ("splatting") a weight onto the 2^D neighbours
// of a position. Both are hand-specialised for one, two and three
// dimensions; the dispatch happens once per call, the inner loops touch
// the raw buffer directly.
package interp

import (
	"fmt"
	"math"

	"github.com/san-kum/branchflow/internal/grid"
)

// wrap folds an integer cell index into [0, extent).
func wrap(i, extent int) int {
	m := i % extent
	if m < 0 {
		m += extent
	}
	return m
}

// Sample returns the multi-linearly interpolated value of the grid at a
// real-valued position. The grid must use periodic access so neighbour
// lookups are always in range.
func Sample(g *grid.Grid[float64], pos []float64) float64 {
	if g.AccessMode() != grid.Periodic {
		panic("interp: sampling requires a periodic grid")
	}
	switch g.Dim() {
	case 1:
		return sample1(g, pos)
	case 2:
		return sample2(g, pos)
	case 3:
		return sample3(g, pos)
	}
	panic(fmt.Sprintf("interp: unsupported dimension %d", g.Dim()))
}

func sample1(g *grid.Grid[float64], pos []float64) float64 {
	data := g.Data()
	e := g.Extents()[0]

	i := int(math.Floor(pos[0]))
	f := pos[0] - float64(i)

	a := data[wrap(i, e)]
	b := data[wrap(i+1, e)]
	return a + (b-a)*f
}

func sample2(g *grid.Grid[float64], pos []float64) float64 {
	data := g.Data()
	ext := g.Extents()
	e0, e1 := ext[0], ext[1]

	i0 := int(math.Floor(pos[0]))
	i1 := int(math.Floor(pos[1]))
	f0 := pos[0] - float64(i0)
	f1 := pos[1] - float64(i1)

	r0, r0n := wrap(i0, e0), wrap(i0+1, e0)
	c0, c0n := wrap(i1, e1), wrap(i1+1, e1)

	v00 := data[r0*e1+c0]
	v01 := data[r0*e1+c0n]
	v10 := data[r0n*e1+c0]
	v11 := data[r0n*e1+c0n]

	low := v00 + (v01-v00)*f1
	high := v10 + (v11-v10)*f1
	return low + (high-low)*f0
}

func sample3(g *grid.Grid[float64], pos []float64) float64 {
	data := g.Data()
	ext := g.Extents()
	e0, e1, e2 := ext[0], ext[1], ext[2]

	i0 := int(math.Floor(pos[0]))
	i1 := int(math.Floor(pos[1]))
	i2 := int(math.Floor(pos[2]))
	f0 := pos[0] - float64(i0)
	f1 := pos[1] - float64(i1)
	f2 := pos[2] - float64(i2)

	a0, b0 := wrap(i0, e0), wrap(i0+1, e0)
	a1, b1 := wrap(i1, e1), wrap(i1+1, e1)
	a2, b2 := wrap(i2, e2), wrap(i2+1, e2)

	plane := func(x int) float64 {
		base := x * e1 * e2
		v00 := data[base+a1*e2+a2]
		v01 := data[base+a1*e2+b2]
		v10 := data[base+b1*e2+a2]
		v11 := data[base+b1*e2+b2]
		low := v00 + (v01-v00)*f2
		high := v10 + (v11-v10)*f2
		return low + (high-low)*f1
	}

	front := plane(a0)
	back := plane(b0)
	return front + (back-front)*f0
}

// Splat additively deposits weight onto the 2^D neighbours of pos, each
// neighbour receiving weight times the product of its per-axis blend
// factors. The grid must use periodic access.
func Splat(g *grid.Grid[float32], pos []float64, weight float64) {
	if g.AccessMode() != grid.Periodic {
		panic("interp: splatting requires a periodic grid")
	}
	switch g.Dim() {
	case 1:
		splat1(g, pos, weight)
	case 2:
		splat2(g, pos, weight)
	case 3:
		splat3(g, pos, weight)
	default:
		panic(fmt.Sprintf("interp: unsupported dimension %d", g.Dim()))
	}
}

func splat1(g *grid.Grid[float32], pos []float64, weight float64) {
	data := g.Data()
	e := g.Extents()[0]

	i := int(math.Floor(pos[0]))
	f := pos[0] - float64(i)

	data[wrap(i, e)] += float32(weight * (1 - f))
	data[wrap(i+1, e)] += float32(weight * f)
}

func splat2(g *grid.Grid[float32], pos []float64, weight float64) {
	data := g.Data()
	ext := g.Extents()
	e0, e1 := ext[0], ext[1]

	i0 := int(math.Floor(pos[0]))
	i1 := int(math.Floor(pos[1]))
	f0 := pos[0] - float64(i0)
	f1 := pos[1] - float64(i1)

	a0, b0 := wrap(i0, e0), wrap(i0+1, e0)
	a1, b1 := wrap(i1, e1), wrap(i1+1, e1)

	data[a0*e1+a1] += float32(weight * (1 - f0) * (1 - f1))
	data[a0*e1+b1] += float32(weight * (1 - f0) * f1)
	data[b0*e1+a1] += float32(weight * f0 * (1 - f1))
	data[b0*e1+b1] += float32(weight * f0 * f1)
}

func splat3(g *grid.Grid[float32], pos []float64, weight float64) {
	data := g.Data()
	ext := g.Extents()
	e0, e1, e2 := ext[0], ext[1], ext[2]

	i0 := int(math.Floor(pos[0]))
	i1 := int(math.Floor(pos[1]))
	i2 := int(math.Floor(pos[2]))
	f0 := pos[0] - float64(i0)
	f1 := pos[1] - float64(i1)
	f2 := pos[2] - float64(i2)

	a0, b0 := wrap(i0, e0), wrap(i0+1, e0)
	a1, b1 := wrap(i1, e1), wrap(i1+1, e1)
	a2, b2 := wrap(i2, e2), wrap(i2+1, e2)

	w0 := [2]float64{1 - f0, f0}
	w1 := [2]float64{1 - f1, f1}
	w2 := [2]float64{1 - f2, f2}
	x := [2]int{a0, b0}
	y := [2]int{a1, b1}
	z := [2]int{a2, b2}

	for bx := 0; bx < 2; bx++ {
		for by := 0; by < 2; by++ {
			base := x[bx]*e1*e2 + y[by]*e2
			wxy := w0[bx] * w1[by]
			data[base+z[0]] += float32(weight * wxy * w2[0])
			data[base+z[1]] += float32(weight * wxy * w2[1])
		}
	}
}

// Lerp is the shared one-dimensional blend (b-a)*t + a.
func Lerp(a, b, t float64) float64 { return a + (b-a)*t }

// LerpVec blends two vectors component-wise into dst.
func LerpVec(dst, a, b []float64, t float64) {
	for i := range dst {
		dst[i] = a[i] + (b[i]-a[i])*t
	}
}
