package member

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/GideonEse/fete/internal/store"
)

var (
	// ErrDuplicateIdentity means a conflicting member record already exists.
	ErrDuplicateIdentity = errors.New("member: duplicate identity")
	// ErrInvalidCredentials means the identifier/password pair did not resolve.
	ErrInvalidCredentials = errors.New("member: invalid credentials")
)

// AddInput carries the fields accepted at registration.
type AddInput struct {
	Name           string
	MatricNumber   string
	Role           Role
	Password       string
	AvatarRef      string
	FaceDescriptor []float32
}

// Registry owns all member records. It is the sole owner; sessions and the
// matcher hold references by id only. Writes go through Add, which persists
// the full collection to the key-value collaborator.
type Registry struct {
	mu      sync.RWMutex
	kv      store.KV
	log     *zap.Logger
	members []Member
	version uint64
}

// Load builds a registry from the persisted collection. An absent or
// malformed payload falls back to the seeded state with one default admin.
func Load(ctx context.Context, kv store.KV, log *zap.Logger) *Registry {
	r := &Registry{kv: kv, log: log}

	raw, err := kv.Get(ctx, store.KeyMembers)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("loading members failed, seeding defaults", zap.Error(err))
		}
		r.members = seedMembers()
		return r
	}
	var members []Member
	if err := json.Unmarshal(raw, &members); err != nil || len(members) == 0 {
		log.Warn("stored members malformed, seeding defaults", zap.Error(err))
		r.members = seedMembers()
		return r
	}
	r.members = members
	return r
}

// seedMembers is the cold-start state: a single default admin.
func seedMembers() []Member {
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		hash = nil
	}
	return []Member{{
		ID:           "admin_user",
		Name:         "Admin",
		Role:         RoleAdmin,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}}
}

// Add validates uniqueness, assigns an id, stores the record and persists
// the registry. Admin names must be unique case-insensitively among admins;
// matric numbers must be unique among non-admin members.
func (r *Registry) Add(ctx context.Context, in AddInput) (Member, error) {
	if in.Name == "" || !in.Role.Valid() {
		return Member{}, errors.New("member: name and valid role required")
	}
	if in.Role != RoleAdmin && in.MatricNumber == "" {
		return Member{}, errors.New("member: matric number required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.members {
		if in.Role == RoleAdmin {
			if m.Role == RoleAdmin && strings.EqualFold(m.Name, in.Name) {
				return Member{}, ErrDuplicateIdentity
			}
		} else {
			if m.Role != RoleAdmin && m.MatricNumber == in.MatricNumber {
				return Member{}, ErrDuplicateIdentity
			}
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return Member{}, err
	}

	m := Member{
		ID:           uuid.NewString(),
		Name:         in.Name,
		MatricNumber: in.MatricNumber,
		Role:         in.Role,
		PasswordHash: string(hash),
		AvatarRef:    in.AvatarRef,
		CreatedAt:    time.Now().UTC(),
	}
	if in.Role != RoleAdmin && len(in.FaceDescriptor) > 0 {
		m.FaceDescriptor = in.FaceDescriptor
	}

	r.members = append(r.members, m)
	r.version++
	r.persistLocked(ctx)
	return m, nil
}

// persistLocked writes the collection to the KV. Failures are logged and
// swallowed; in-memory state stays authoritative for the process lifetime.
func (r *Registry) persistLocked(ctx context.Context) {
	raw, err := json.Marshal(r.members)
	if err != nil {
		r.log.Error("marshal members failed", zap.Error(err))
		return
	}
	if err := r.kv.Set(ctx, store.KeyMembers, raw); err != nil {
		r.log.Warn("persisting members failed, in-memory state remains authoritative", zap.Error(err))
	}
}

// FindByID returns the member with the given id.
func (r *Registry) FindByID(id string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// FindByCredentials resolves the login identifier for a role: admins log in
// by case-insensitive name, everyone else by matric number.
func (r *Registry) FindByCredentials(identifier string, role Role) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.members {
		if m.Role != role {
			continue
		}
		if role == RoleAdmin {
			if strings.EqualFold(m.Name, identifier) {
				return m, true
			}
		} else if m.MatricNumber == identifier {
			return m, true
		}
	}
	return Member{}, false
}

// Authenticate resolves the identifier and verifies the password.
func (r *Registry) Authenticate(identifier, password string, role Role) (Member, error) {
	m, ok := r.FindByCredentials(identifier, role)
	if !ok {
		return Member{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)) != nil {
		return Member{}, ErrInvalidCredentials
	}
	return m, nil
}

// List returns a snapshot of all members.
func (r *Registry) List() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// NonAdminCount returns how many students and staff are registered.
func (r *Registry) NonAdminCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.members {
		if m.Role != RoleAdmin {
			n++
		}
	}
	return n
}

// BiometricCount returns how many members have a face descriptor.
func (r *Registry) BiometricCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.members {
		if m.HasDescriptor() {
			n++
		}
	}
	return n
}

// Version increments on every successful Add. The matcher uses it to decide
// when its descriptor corpus is stale.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
