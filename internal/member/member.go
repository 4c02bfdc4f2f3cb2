package member

import "time"

// Role classifies a registered member.
type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleStaff || r == RoleAdmin
}

// Member is a registered person. FaceDescriptor is present only for
// non-admin members who completed biometric capture.
type Member struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	MatricNumber   string    `json:"matric_number,omitempty"`
	Role           Role      `json:"role"`
	PasswordHash   string    `json:"password_hash,omitempty"`
	AvatarRef      string    `json:"avatar_ref,omitempty"`
	FaceDescriptor []float32 `json:"face_descriptor,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasDescriptor reports whether the member completed biometric capture.
func (m Member) HasDescriptor() bool {
	return m.Role != RoleAdmin && len(m.FaceDescriptor) > 0
}
