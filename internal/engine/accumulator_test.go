package engine

import "testing"

func TestAccumulatorExtractsFullWindows(t *testing.T) {
	acc := NewAccumulator(4)

	acc.Push([]float32{1, 2})
	if _, ok := acc.Extract(); ok {
		t.Fatal("extracted window before capacity reached")
	}

	acc.Push([]float32{3, 4, 5})
	window, ok := acc.Extract()
	if !ok {
		t.Fatal("expected a full window")
	}
	want := []float32{1, 2, 3, 4}
	for i, v := range want {
		if window[i] != v {
			t.Errorf("window[%d] = %v, want %v", i, window[i], v)
		}
	}
	if acc.Len() != 1 {
		t.Errorf("remainder = %d, want 1", acc.Len())
	}
}

func TestAccumulatorConservesSamples(t *testing.T) {
	// Across any push sequence, consumed + buffered must equal pushed.
	acc := NewAccumulator(100)
	pushed := 0
	consumed := 0
	for _, n := range []int{37, 64, 12, 250, 1, 99} {
		chunk := make([]float32, n)
		for i := range chunk {
			chunk[i] = float32(pushed + i)
		}
		acc.Push(chunk)
		pushed += n
		for {
			w, ok := acc.Extract()
			if !ok {
				break
			}
			// Values are the global sample index, so ordering loss or
			// duplication shows up immediately.
			for i, v := range w {
				if int(v) != consumed+i {
					t.Fatalf("sample %d = %v, want %d", consumed+i, v, consumed+i)
				}
			}
			consumed += len(w)
		}
	}
	if consumed+acc.Len() != pushed {
		t.Errorf("consumed %d + buffered %d != pushed %d", consumed, acc.Len(), pushed)
	}
}

func TestAccumulatorReset(t *testing.T) {
	acc := NewAccumulator(4)
	acc.Push([]float32{1, 2, 3})
	acc.Reset()
	if acc.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", acc.Len())
	}
}
