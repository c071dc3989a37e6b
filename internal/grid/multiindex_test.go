package grid

import "testing"

func TestMultiIndex_RowMajorOrder(t *testing.T) {
	mi := NewMultiIndex(2)
	mi.SetLowerBound(0)
	mi.SetUpperBoundAt(0, 2)
	mi.SetUpperBoundAt(1, 3)
	mi.Init()

	var got [][2]int
	for ; mi.Valid(); mi.Inc() {
		got = append(got, [2]int{mi.At(0), mi.At(1)})
	}

	want := [][2]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}
	if len(got) != len(want) {
		t.Fatalf("expected %d positions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestMultiIndex_NegativeBounds(t *testing.T) {
	mi := NewBoundedIndex(1, -2, 2)

	count := 0
	for ; mi.Valid(); mi.Inc() {
		count++
	}
	if count != 4 {
		t.Errorf("expected 4 positions in [-2, 2), got %d", count)
	}
}

func TestMultiIndex_IncReportsCarryAxis(t *testing.T) {
	mi := NewBoundedIndex(2, 0, 2)

	if axis := mi.Inc(); axis != 1 {
		t.Errorf("expected inner axis 1, got %d", axis)
	}
	if axis := mi.Inc(); axis != 0 {
		t.Errorf("expected carry into axis 0, got %d", axis)
	}
}

func TestMultiIndex_Split(t *testing.T) {
	tests := []struct {
		name  string
		upper int
		parts int
	}{
		{"even split", 8, 4},
		{"uneven split", 7, 3},
		{"more parts than range", 2, 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mi := NewMultiIndex(2)
			mi.SetLowerBound(0)
			mi.SetUpperBoundAt(0, tc.upper)
			mi.SetUpperBoundAt(1, 3)
			mi.Init()

			seen := make(map[[2]int]bool)
			parts := mi.Split(tc.parts)
			if len(parts) > tc.parts {
				t.Fatalf("got %d parts, requested %d", len(parts), tc.parts)
			}
			for _, part := range parts {
				for ; part.Valid(); part.Inc() {
					pos := [2]int{part.At(0), part.At(1)}
					if seen[pos] {
						t.Fatalf("position %v covered twice", pos)
					}
					seen[pos] = true
				}
			}
			if len(seen) != tc.upper*3 {
				t.Errorf("expected %d positions, covered %d", tc.upper*3, len(seen))
			}
		})
	}
}

func TestMultiIndex_DynamicUpperBound(t *testing.T) {
	mi := NewMultiIndex(2)
	mi.SetLowerBound(0)
	mi.SetUpperBoundAt(0, 3)
	mi.SetUpperBoundAt(1, 1)
	mi.Init()

	// Grow the inner axis while iterating, as the spherical IC does per
	// row.
	mi.SetUpperBoundDynamic(1, 3)

	count := 0
	for ; mi.Valid(); mi.Inc() {
		count++
	}
	if count != 9 {
		t.Errorf("expected 9 positions after dynamic bound change, got %d", count)
	}
}

func TestMultiIndex_InvalidUseRecovery(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic when changing bounds of a live index")
		}
	}()
	mi := NewBoundedIndex(1, 0, 2)
	mi.SetUpperBound(5)
}
