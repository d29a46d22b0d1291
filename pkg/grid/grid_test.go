package grid

import "testing"

func TestGetGridCoords(t *testing.T) {
	tests := []struct {
		index int
		cols  int
		wantX int
		wantY int
	}{
		// default display, 40x12
		{0, 40, 0, 0},
		{39, 40, 39, 0},
		{40, 40, 0, 1},
		{479, 40, 39, 11},

		// narrow
		{0, 4, 0, 0},
		{5, 4, 1, 1},
		{7, 4, 3, 1},
		{8, 4, 0, 2},

		// single column
		{3, 1, 0, 3},
	}

	for _, tc := range tests {
		gotX, gotY := GetGridCoords(tc.index, tc.cols)
		if gotX != tc.wantX || gotY != tc.wantY {
			t.Errorf("GetGridCoords(%d, %d) = (%d, %d); want (%d, %d)", tc.index, tc.cols, gotX, gotY, tc.wantX, tc.wantY)
		}
	}
}

func TestGetIndexInverse(t *testing.T) {
	for _, cols := range []int{32, 40, 64} {
		for i := 0; i < 1024; i++ {
			x, y := GetGridCoords(i, cols)
			if got := GetIndex(x, y, cols); got != i {
				t.Errorf("GetIndex(%d, %d, %d) = %d; want %d", x, y, cols, got, i)
			}
		}
	}
}
