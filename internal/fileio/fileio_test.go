package fileio

import (
	"bytes"
	"testing"
)

func TestIntegerRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 1<<32 - 1, 1<<64 - 1, 42}

	var buf bytes.Buffer
	for _, v := range values {
		if err := WriteU64(&buf, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range values {
		got, err := ReadU64(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
}

func TestFloatRoundTrip(t *testing.T) {
	values := []float64{0, -1.5, 3.141592653589793, 1e-300}

	var buf bytes.Buffer
	if err := WriteF64s(&buf, values); err != nil {
		t.Fatal(err)
	}

	got := make([]float64, len(values))
	if err := ReadF64s(&buf, got); err != nil {
		t.Fatal(err)
	}
	for i := range values {
		if got[i] != values[i] {
			t.Errorf("value %d: expected %g, got %g", i, values[i], got[i])
		}
	}
}

func TestLittleEndianLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteU64(&buf, 0x0102030405060708); err != nil {
		t.Fatal(err)
	}
	want := []byte{8, 7, 6, 5, 4, 3, 2, 1}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("expected %v, got %v", want, buf.Bytes())
	}
}

func TestCString(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCString(&buf, "f64"); err != nil {
		t.Fatal(err)
	}
	if got := buf.Bytes(); got[len(got)-1] != 0 {
		t.Error("missing NUL terminator")
	}
	s, err := ReadCString(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if s != "f64" {
		t.Errorf("expected f64, got %q", s)
	}
}

func TestSignedIntegers(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteI64(&buf, -3); err != nil {
		t.Fatal(err)
	}
	v, err := ReadI64(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if v != -3 {
		t.Errorf("expected -3, got %d", v)
	}
}
