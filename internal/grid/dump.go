package grid

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/san-kum/branchflow/internal/fileio"
)

// TypeName returns the on-disk element type tag for T.
func TypeName[T Element]() string {
	var zero T
	switch any(zero).(type) {
	case float64:
		return "f64"
	case float32:
		return "f32"
	case complex128:
		return "c128"
	case uint32:
		return "u32"
	case uint64:
		return "u64"
	}
	panic("grid: unmapped element type")
}

// Dump writes the grid in the binary layout shared with the potential file:
// one tag byte 'g', the 64-bit dimension, the extents, the element type name
// as a NUL-terminated string, the 64-bit cell count and the raw cells in
// little-endian order.
func (g *Grid[T]) Dump(w io.Writer) error {
	if _, err := w.Write([]byte{'g'}); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(g.Dim())); err != nil {
		return err
	}
	for _, e := range g.extents {
		if err := fileio.WriteU64(w, uint64(e)); err != nil {
			return err
		}
	}
	if err := fileio.WriteCString(w, TypeName[T]()); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(g.Cells())); err != nil {
		return err
	}
	return writeCells(w, g.store.data)
}

// loadHeader reads the 'g' tag and extents.
func loadHeader(r io.Reader) ([]int, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}
	if tag[0] != 'g' {
		return nil, fmt.Errorf("%w: missing grid tag, got %q", ErrFormat, tag[0])
	}
	dim, err := fileio.ReadU64(r)
	if err != nil {
		return nil, err
	}
	if dim == 0 || dim > 16 {
		return nil, fmt.Errorf("%w: implausible dimension %d", ErrFormat, dim)
	}
	extents := make([]int, dim)
	for i := range extents {
		e, err := fileio.ReadU64(r)
		if err != nil {
			return nil, err
		}
		extents[i] = int(e)
	}
	return extents, nil
}

// Load reads a grid dump, constructing the extents from the header and then
// filling a fresh buffer. The stored element type name must match T exactly.
func Load[T Element](r io.Reader) (*Grid[T], error) {
	extents, err := loadHeader(r)
	if err != nil {
		return nil, err
	}
	name, err := fileio.ReadCString(r)
	if err != nil {
		return nil, err
	}
	if want := TypeName[T](); name != want {
		return nil, fmt.Errorf("%w: expected %s, file contains %s", ErrTypeMismatch, want, name)
	}
	count, err := fileio.ReadU64(r)
	if err != nil {
		return nil, err
	}
	g, err := New[T](extents, Identity)
	if err != nil {
		return nil, err
	}
	if int(count) != g.Cells() {
		g.Release()
		return nil, fmt.Errorf("%w: cell count %d does not match extents %v", ErrFormat, count, extents)
	}
	if err := readCells(r, g.store.data); err != nil {
		g.Release()
		return nil, err
	}
	return g, nil
}

func writeCells[T Element](w io.Writer, cells []T) error {
	buf := make([]byte, 0, 64*1024)
	flush := func(force bool) error {
		if len(buf) == 0 || (!force && len(buf) < 64*1024-16) {
			return nil
		}
		_, err := w.Write(buf)
		buf = buf[:0]
		return err
	}
	for _, c := range cells {
		switch v := any(c).(type) {
		case float64:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		case float32:
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		case complex128:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(real(v)))
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(imag(v)))
		case uint32:
			buf = binary.LittleEndian.AppendUint32(buf, v)
		case uint64:
			buf = binary.LittleEndian.AppendUint64(buf, v)
		}
		if err := flush(false); err != nil {
			return err
		}
	}
	return flush(true)
}

func readCells[T Element](r io.Reader, cells []T) error {
	var zero T
	stride := elemSize(zero)
	buf := make([]byte, stride*4096)
	for done := 0; done < len(cells); {
		n := len(cells) - done
		if n > 4096 {
			n = 4096
		}
		chunk := buf[:n*stride]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return fmt.Errorf("%w: truncated cell data: %v", ErrFormat, err)
		}
		for i := 0; i < n; i++ {
			b := chunk[i*stride:]
			var v T
			switch any(zero).(type) {
			case float64:
				v = any(math.Float64frombits(binary.LittleEndian.Uint64(b))).(T)
			case float32:
				v = any(math.Float32frombits(binary.LittleEndian.Uint32(b))).(T)
			case complex128:
				re := math.Float64frombits(binary.LittleEndian.Uint64(b))
				im := math.Float64frombits(binary.LittleEndian.Uint64(b[8:]))
				v = any(complex(re, im)).(T)
			case uint32:
				v = any(binary.LittleEndian.Uint32(b)).(T)
			case uint64:
				v = any(binary.LittleEndian.Uint64(b)).(T)
			}
			cells[done+i] = v
		}
		done += n
	}
	return nil
}
