package memory

import (
	"math"
	"testing"
)

func TestEncodeDecodeVector(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}

	blob, err := EncodeVector(in)
	if err != nil {
		t.Fatalf("EncodeVector: %v", err)
	}
	if len(blob) != 4+4*len(in) {
		t.Errorf("blob len = %d, want %d", len(blob), 4+4*len(in))
	}

	out, err := DecodeVector(blob)
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestEncodeVectorRejectsBadInput(t *testing.T) {
	if _, err := EncodeVector(nil); err == nil {
		t.Error("expected error for empty vector")
	}
	if _, err := EncodeVector([]float32{float32(math.NaN())}); err == nil {
		t.Error("expected error for NaN")
	}
	if _, err := EncodeVector([]float32{float32(math.Inf(1))}); err == nil {
		t.Error("expected error for Inf")
	}
}

func TestDecodeVectorRejectsBadBlobs(t *testing.T) {
	cases := []struct {
		name string
		blob []byte
	}{
		{"too short", []byte{1, 0}},
		{"zero dimension", []byte{0, 0, 0, 0}},
		{"truncated payload", []byte{2, 0, 0, 0, 1, 2, 3, 4}},
		{"oversized payload", append([]byte{1, 0, 0, 0}, make([]byte, 8)...)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeVector(tc.blob); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero norm", []float32{0, 0}, []float32{1, 2}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCosineSimilarityScaleInvariant(t *testing.T) {
	a := []float32{0.3, 0.7, 0.1}
	b := []float32{0.6, 1.4, 0.2} // a scaled by 2

	if got := CosineSimilarity(a, b); math.Abs(got-1) > 1e-6 {
		t.Errorf("CosineSimilarity = %v, want 1 for scaled vector", got)
	}
}
