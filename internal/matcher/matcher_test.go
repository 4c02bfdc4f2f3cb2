package matcher

import (
	"math"
	"testing"

	"github.com/GideonEse/fete/internal/member"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 0},
		{"scaled copy", []float32{1, 2, 3}, []float32{2, 4, 6}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 2},
		{"empty", nil, nil, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineDistance(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("CosineDistance = %v; want %v", got, tc.want)
			}
		})
	}
}

func corpus() []member.Member {
	return []member.Member{
		{ID: "m-ada", Name: "Ada", Role: member.RoleStudent, FaceDescriptor: []float32{1, 0, 0}},
		{ID: "m-bea", Name: "Bea", Role: member.RoleStaff, FaceDescriptor: []float32{0, 1, 0}},
		{ID: "m-admin", Name: "Admin", Role: member.RoleAdmin},
		{ID: "m-nodesc", Name: "Cara", Role: member.RoleStudent},
	}
}

func TestRebuildFiltersCorpus(t *testing.T) {
	x := New(0.42)
	if got := x.Rebuild(corpus(), 7); got != 2 {
		t.Errorf("Rebuild indexed %d descriptors; want 2", got)
	}
	if x.Size() != 2 {
		t.Errorf("Size = %d; want 2", x.Size())
	}
	if x.Version() != 7 {
		t.Errorf("Version = %d; want 7", x.Version())
	}
}

func TestMatchEmptyIndex(t *testing.T) {
	x := New(0.42)
	if _, _, err := x.Match([]float32{1, 0, 0}); err != ErrUnavailable {
		t.Errorf("err = %v; want ErrUnavailable", err)
	}

	// A corpus with nothing indexable behaves the same.
	x.Rebuild([]member.Member{{ID: "m-admin", Role: member.RoleAdmin}}, 1)
	if _, _, err := x.Match([]float32{1, 0, 0}); err != ErrUnavailable {
		t.Errorf("after empty rebuild: err = %v; want ErrUnavailable", err)
	}
}

func TestMatch(t *testing.T) {
	x := New(0.42)
	x.Rebuild(corpus(), 1)

	tests := []struct {
		name       string
		descriptor []float32
		wantID     string
		wantOK     bool
	}{
		{"exact ada", []float32{1, 0, 0}, "m-ada", true},
		{"near ada", []float32{0.95, 0.05, 0}, "m-ada", true},
		{"exact bea", []float32{0, 1, 0}, "m-bea", true},
		{"unknown face", []float32{-1, -1, -1}, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := x.Match(tc.descriptor)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if ok != tc.wantOK {
				t.Fatalf("ok = %v (dist %v); want %v", ok, got.Distance, tc.wantOK)
			}
			if ok && got.MemberID != tc.wantID {
				t.Errorf("matched %s; want %s", got.MemberID, tc.wantID)
			}
			if ok && got.Name == "" {
				t.Error("match carries no name")
			}
		})
	}
}

func TestMatchThresholdBoundary(t *testing.T) {
	// Orthogonal vectors sit at distance 1.0 exactly; a threshold of 1.0
	// admits them, anything smaller rejects them.
	members := []member.Member{
		{ID: "m1", Name: "Only", Role: member.RoleStudent, FaceDescriptor: []float32{1, 0}},
	}
	query := []float32{0, 1}

	atThreshold := New(1.0)
	atThreshold.Rebuild(members, 1)
	if _, ok, _ := atThreshold.Match(query); !ok {
		t.Error("distance equal to threshold should match")
	}

	belowThreshold := New(0.99)
	belowThreshold.Rebuild(members, 1)
	if _, ok, _ := belowThreshold.Match(query); ok {
		t.Error("distance above threshold should not match")
	}
}

func TestRebuildReplacesCorpus(t *testing.T) {
	x := New(0.42)
	x.Rebuild(corpus(), 1)

	// Ada drops out on the next rebuild; her descriptor must stop matching.
	x.Rebuild([]member.Member{
		{ID: "m-bea", Name: "Bea", Role: member.RoleStaff, FaceDescriptor: []float32{0, 1, 0}},
	}, 2)

	got, ok, err := x.Match([]float32{1, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if ok && got.MemberID == "m-ada" {
		t.Error("stale descriptor survived rebuild")
	}
}
