package member

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/GideonEse/fete/internal/store"
)

func newRegistry(t *testing.T) (*Registry, *store.Memory) {
	t.Helper()
	kv := store.NewMemory()
	return Load(context.Background(), kv, zap.NewNop()), kv
}

func TestLoadSeedsDefaultAdmin(t *testing.T) {
	r, _ := newRegistry(t)

	admin, ok := r.FindByID("admin_user")
	if !ok {
		t.Fatal("seeded admin missing")
	}
	if admin.Name != "Admin" || admin.Role != RoleAdmin {
		t.Errorf("seed = %q/%q; want Admin/admin", admin.Name, admin.Role)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("password")); err != nil {
		t.Errorf("seeded admin password mismatch: %v", err)
	}
	if admin.HasDescriptor() {
		t.Error("seeded admin should have no descriptor")
	}
}

func TestLoadSeedsOnMalformedPayload(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	kv.Set(ctx, store.KeyMembers, []byte("[{broken"))

	r := Load(ctx, kv, zap.NewNop())
	if _, ok := r.FindByID("admin_user"); !ok {
		t.Error("malformed payload did not fall back to seeded state")
	}
}

func TestAddValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      AddInput
		wantErr bool
	}{
		{"valid student", AddInput{Name: "Ada", MatricNumber: "M1", Role: RoleStudent, Password: "pw"}, false},
		{"missing name", AddInput{MatricNumber: "M2", Role: RoleStudent, Password: "pw"}, true},
		{"bad role", AddInput{Name: "Bob", MatricNumber: "M3", Role: Role("ghost"), Password: "pw"}, true},
		{"non-admin without matric", AddInput{Name: "Cara", Role: RoleStaff, Password: "pw"}, true},
		{"admin without matric", AddInput{Name: "Root", Role: RoleAdmin, Password: "pw"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newRegistry(t)
			_, err := r.Add(context.Background(), tc.in)
			if (err != nil) != tc.wantErr {
				t.Errorf("Add(%+v) error = %v; wantErr = %v", tc.in, err, tc.wantErr)
			}
		})
	}
}

func TestAddRejectsDuplicateMatric(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	if _, err := r.Add(ctx, AddInput{Name: "Ada", MatricNumber: "M1", Role: RoleStudent, Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	before := len(r.List())

	// Same matric, different name and role, still rejected.
	_, err := r.Add(ctx, AddInput{Name: "Someone Else", MatricNumber: "M1", Role: RoleStaff, Password: "pw"})
	if err != ErrDuplicateIdentity {
		t.Errorf("duplicate matric: err = %v; want ErrDuplicateIdentity", err)
	}
	if got := len(r.List()); got != before {
		t.Errorf("registry grew on rejected add: %d -> %d", before, got)
	}
}

func TestAddRejectsDuplicateAdminName(t *testing.T) {
	r, _ := newRegistry(t)

	_, err := r.Add(context.Background(), AddInput{Name: "admin", Role: RoleAdmin, Password: "pw"})
	if err != ErrDuplicateIdentity {
		t.Errorf("case-insensitive admin name clash: err = %v; want ErrDuplicateIdentity", err)
	}
}

func TestAdminDescriptorDropped(t *testing.T) {
	r, _ := newRegistry(t)

	m, err := r.Add(context.Background(), AddInput{
		Name:           "Second Admin",
		Role:           RoleAdmin,
		Password:       "pw",
		FaceDescriptor: []float32{1, 2, 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.HasDescriptor() || m.FaceDescriptor != nil {
		t.Error("admin record kept a face descriptor")
	}
}

func TestAuthenticate(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	if _, err := r.Add(ctx, AddInput{Name: "Ada", MatricNumber: "M1", Role: RoleStudent, Password: "hunter2"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		identifier string
		password   string
		role       Role
		wantErr    bool
	}{
		{"student by matric", "M1", "hunter2", RoleStudent, false},
		{"wrong password", "M1", "wrong", RoleStudent, true},
		{"wrong role", "M1", "hunter2", RoleStaff, true},
		{"student by name rejected", "Ada", "hunter2", RoleStudent, true},
		{"admin by name", "admin", "password", RoleAdmin, false},
		{"admin exact case", "Admin", "password", RoleAdmin, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Authenticate(tc.identifier, tc.password, tc.role)
			if (err != nil) != tc.wantErr {
				t.Errorf("Authenticate(%q, %q) error = %v; wantErr = %v", tc.identifier, tc.role, err, tc.wantErr)
			}
		})
	}
}

func TestCounts(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	r.Add(ctx, AddInput{Name: "Ada", MatricNumber: "M1", Role: RoleStudent, Password: "pw", FaceDescriptor: []float32{0.5, 0.5}})
	r.Add(ctx, AddInput{Name: "Bea", MatricNumber: "M2", Role: RoleStaff, Password: "pw"})

	if got := r.NonAdminCount(); got != 2 {
		t.Errorf("NonAdminCount = %d; want 2", got)
	}
	if got := r.BiometricCount(); got != 1 {
		t.Errorf("BiometricCount = %d; want 1", got)
	}
}

func TestVersionBumpsOnAdd(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	v0 := r.Version()
	if _, err := r.Add(ctx, AddInput{Name: "Ada", MatricNumber: "M1", Role: RoleStudent, Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	if r.Version() != v0+1 {
		t.Errorf("version = %d; want %d", r.Version(), v0+1)
	}

	// Rejected adds do not bump.
	r.Add(ctx, AddInput{Name: "Dup", MatricNumber: "M1", Role: RoleStudent, Password: "pw"})
	if r.Version() != v0+1 {
		t.Errorf("version bumped on rejected add: %d", r.Version())
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	r := Load(ctx, kv, zap.NewNop())

	added, err := r.Add(ctx, AddInput{Name: "Ada", MatricNumber: "M1", Role: RoleStudent, Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}

	reloaded := Load(ctx, kv, zap.NewNop())
	m, ok := reloaded.FindByID(added.ID)
	if !ok {
		t.Fatal("member not persisted across loads")
	}
	if m.MatricNumber != "M1" {
		t.Errorf("matric = %q; want M1", m.MatricNumber)
	}
}
