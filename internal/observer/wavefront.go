package observer

import (
	"fmt"
	"io"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/icgen"
)

// wavefrontPoint stores where one ray of the wavefront ended up, tagged
// with its manifold cell so quads can be stitched from adjacent cells.
type wavefrontPoint struct {
	position []float64
	manifold []int
	uv       []float64
}

// WavefrontObserver captures the position of every ray once it passes the
// stop time and emits the resulting surface as an ASCII PLY mesh, with
// quads formed between rays of adjacent manifold indices. Thread-shared:
// points from all trajectories assemble one mesh.
type WavefrontObserver struct {
	SharedBase

	stopTime float64

	ic     *icgen.InitialCondition
	points []wavefrontPoint
}

// NewWavefrontObserver captures the wavefront at the given time.
func NewWavefrontObserver(stopTime float64, fileName string) *WavefrontObserver {
	return &WavefrontObserver{SharedBase: NewSharedBase(fileName), stopTime: stopTime}
}

func (o *WavefrontObserver) StartTrajectory(ic *icgen.InitialCondition, _ uint64) {
	o.ic = ic
}

func (o *WavefrontObserver) Watch(state *dynamics.State, t float64) bool {
	if t <= o.stopTime {
		return true
	}
	o.points = append(o.points, wavefrontPoint{
		position: append([]float64(nil), state.Pos...),
		manifold: append([]int(nil), o.ic.ManifoldIndex...),
		uv:       append([]float64(nil), o.ic.ManifoldCoords...),
	})
	return false
}

// Save writes the PLY mesh: vertices tinted by manifold coordinates, quads
// between rays whose manifold indices are neighbours.
func (o *WavefrontObserver) Save(w io.Writer) error {
	quads := o.buildQuads()

	fmt.Fprintf(w, "ply\nformat ascii 1.0\n")
	fmt.Fprintf(w, "element vertex %d\n", len(o.points))
	fmt.Fprintf(w, "property float x\nproperty float y\nproperty float z\n")
	fmt.Fprintf(w, "property uchar red\nproperty uchar green\nproperty uchar blue\n")
	fmt.Fprintf(w, "element face %d\n", len(quads))
	fmt.Fprintf(w, "property list uchar int vertex_index\n")
	fmt.Fprintf(w, "end_header\n")

	for _, p := range o.points {
		for _, v := range p.position {
			fmt.Fprintf(w, "%g ", v)
		}
		// Checkerboard tint from the manifold coordinates.
		for i := 0; i < 3; i++ {
			uv := 0.0
			if i < len(p.uv) {
				uv = p.uv[i]
			}
			fmt.Fprintf(w, "%d ", 128+128*((int(uv*50)+i)%2))
		}
		fmt.Fprintln(w)
	}

	for _, q := range quads {
		// Orient the quad so opposite edges do not cross.
		dot := 0.0
		for i := range o.points[q[0]].position {
			e1 := o.points[q[0]].position[i] - o.points[q[1]].position[i]
			e2 := o.points[q[2]].position[i] - o.points[q[3]].position[i]
			dot += e1 * e2
		}
		if dot > 0 {
			q[2], q[3] = q[3], q[2]
		}
		fmt.Fprintf(w, "4 %d %d %d %d\n", q[0], q[1], q[2], q[3])
	}
	return nil
}

// buildQuads connects each point to its three manifold neighbours
// (+0/+1, +1/+1, +1/+0) when all of them were captured.
func (o *WavefrontObserver) buildQuads() [][4]int {
	type cell struct{ a, b int }
	lookup := make(map[cell]int, len(o.points))
	for i, p := range o.points {
		if len(p.manifold) < 2 {
			return nil
		}
		lookup[cell{p.manifold[0], p.manifold[1]}] = i
	}

	var quads [][4]int
	for i, p := range o.points {
		c := cell{p.manifold[0], p.manifold[1]}
		right, ok1 := lookup[cell{c.a, c.b + 1}]
		diag, ok2 := lookup[cell{c.a + 1, c.b + 1}]
		down, ok3 := lookup[cell{c.a + 1, c.b}]
		if ok1 && ok2 && ok3 {
			quads = append(quads, [4]int{i, right, diag, down})
		}
	}
	return quads
}
