// Package fileio provides helpers for the binary little-endian file
// formats shared by the generator and the tracer. Integers are always
// written as 64 bit, floats as float64, regardless of the in-memory type.
package fileio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WriteU64 writes an integer as fixed 64-bit little endian.
func WriteU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadU64 reads a fixed 64-bit little-endian integer.
func ReadU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteI64 writes a signed integer as fixed 64-bit little endian.
func WriteI64(w io.Writer, v int64) error {
	return WriteU64(w, uint64(v))
}

// ReadI64 reads a fixed 64-bit little-endian signed integer.
func ReadI64(r io.Reader) (int64, error) {
	u, err := ReadU64(r)
	return int64(u), err
}

// WriteF64 writes a float64 as its little-endian IEEE-754 bits.
func WriteF64(w io.Writer, v float64) error {
	return WriteU64(w, math.Float64bits(v))
}

// ReadF64 reads a little-endian float64.
func ReadF64(r io.Reader) (float64, error) {
	u, err := ReadU64(r)
	return math.Float64frombits(u), err
}

// WriteF64s writes the contents of a float slice without a length prefix.
func WriteF64s(w io.Writer, vs []float64) error {
	for _, v := range vs {
		if err := WriteF64(w, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadF64s fills dst from the stream.
func ReadF64s(r io.Reader, dst []float64) error {
	for i := range dst {
		v, err := ReadF64(r)
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

// WriteCString writes s followed by a terminating NUL byte.
func WriteCString(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// ReadCString reads bytes up to (and consuming) the next NUL.
func ReadCString(r io.Reader) (string, error) {
	var out []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
		if len(out) > 256 {
			return "", fmt.Errorf("fileio: unterminated type name string")
		}
	}
}
