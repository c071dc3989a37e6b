package potential

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/san-kum/branchflow/internal/fileio"
	"github.com/san-kum/branchflow/internal/grid"
)

// magic identifies a potential file; the trailing digit is the format
// revision.
var magic = []byte{'b', 'p', 'o', 't', '5'}

var ErrBadMagic = errors.New("potential: file does not start with the potential magic bytes")

// Write serialises the potential: magic, a length-prefixed human-readable
// comment, the metadata block, and one record per stored grid.
func (p *Potential) Write(w io.Writer) error {
	if _, err := w.Write(magic); err != nil {
		return err
	}

	// The comment block makes files inspectable with head(1): a space, the
	// ASCII byte length of the block, then the block itself.
	info := p.Info()
	if _, err := fmt.Fprintf(w, " %d%s", len(info), info); err != nil {
		return err
	}

	if err := fileio.WriteU64(w, uint64(p.dimension)); err != nil {
		return err
	}
	if err := fileio.WriteF64s(w, p.support); err != nil {
		return err
	}
	for _, e := range p.extents {
		if err := fileio.WriteU64(w, uint64(e)); err != nil {
			return err
		}
	}
	if err := fileio.WriteU64(w, p.seed); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, p.version); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(len(p.data))); err != nil {
		return err
	}
	if err := fileio.WriteF64(w, p.corrLength); err != nil {
		return err
	}
	if err := fileio.WriteF64(w, p.strength); err != nil {
		return err
	}

	for _, e := range p.entries() {
		if err := fileio.WriteU64(w, uint64(len(e.name))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, e.name); err != nil {
			return err
		}
		for _, d := range e.deriv {
			if err := fileio.WriteI64(w, int64(d)); err != nil {
				return err
			}
		}
		if err := e.data.Dump(w); err != nil {
			return err
		}
	}
	return nil
}

// Read deserialises a potential written by Write.
func Read(r io.Reader) (*Potential, error) {
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	for i := range magic {
		if head[i] != magic[i] {
			return nil, ErrBadMagic
		}
	}

	infoLen, err := readASCIIInt(r)
	if err != nil {
		return nil, fmt.Errorf("potential: reading comment length: %w", err)
	}
	if _, err := io.CopyN(io.Discard, r, int64(infoLen)); err != nil {
		return nil, fmt.Errorf("potential: skipping comment block: %w", err)
	}

	dim, err := fileio.ReadU64(r)
	if err != nil {
		return nil, err
	}
	if dim == 0 || dim > 3 {
		return nil, fmt.Errorf("potential: unsupported dimension %d", dim)
	}
	support := make([]float64, dim)
	if err := fileio.ReadF64s(r, support); err != nil {
		return nil, err
	}
	extents := make([]int, dim)
	for i := range extents {
		e, err := fileio.ReadU64(r)
		if err != nil {
			return nil, err
		}
		extents[i] = int(e)
	}
	seed, err := fileio.ReadU64(r)
	if err != nil {
		return nil, err
	}
	version, err := fileio.ReadU64(r)
	if err != nil {
		return nil, err
	}
	gridCount, err := fileio.ReadU64(r)
	if err != nil {
		return nil, err
	}
	corrLength, err := fileio.ReadF64(r)
	if err != nil {
		return nil, err
	}
	strength, err := fileio.ReadF64(r)
	if err != nil {
		return nil, err
	}

	p, err := New(extents, support)
	if err != nil {
		return nil, err
	}
	p.SetCreationInfo(seed, version, corrLength)
	p.strength = strength

	for i := uint64(0); i < gridCount; i++ {
		nameLen, err := fileio.ReadU64(r)
		if err != nil {
			return nil, err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		deriv := make([]int, dim)
		for j := range deriv {
			d, err := fileio.ReadI64(r)
			if err != nil {
				return nil, err
			}
			deriv[j] = int(d)
		}
		g, err := grid.Load[float64](r)
		if err != nil {
			return nil, fmt.Errorf("potential: grid %d (%s %v): %w", i, name, deriv, err)
		}
		if err := p.SetDerivative(deriv, g, string(name)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// readASCIIInt consumes the " <digits>" length marker in front of the
// comment block. The first non-digit byte after the digits belongs to the
// comment itself.
func readASCIIInt(r io.Reader) (int, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	if b[0] != ' ' {
		return 0, fmt.Errorf("expected space before comment length, got %q", b[0])
	}
	digits := make([]byte, 0, 8)
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		if b[0] < '0' || b[0] > '9' {
			// First byte of the comment block; it is counted in the length,
			// so reduce the remaining skip by one.
			n, err := strconv.Atoi(string(digits))
			if err != nil {
				return 0, err
			}
			return n - 1, nil
		}
		digits = append(digits, b[0])
	}
}

// SaveFile writes the potential to a file path with buffered output.
func (p *Potential) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 512*1024)
	if err := p.Write(w); err != nil {
		return err
	}
	return w.Flush()
}

// LoadFile reads a potential from a file path.
func LoadFile(path string) (*Potential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(bufio.NewReaderSize(f, 512*1024))
}
