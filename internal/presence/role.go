package presence

import (
	"errors"
	"fmt"
)

var ErrUnknownRole = errors.New("unknown role")

// Role partitions the registry. Values match the handshake metadata.
type Role string

const (
	RoleUser  Role = "user"
	RoleTutor Role = "tutor"
	RoleAdmin Role = "admin"
)

// Roles lists every role in resolution priority order.
var Roles = []Role{RoleUser, RoleTutor, RoleAdmin}

var roleGroups = map[Role]string{
	RoleUser:  "users",
	RoleTutor: "tutors",
	RoleAdmin: "admins",
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleGroups[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Group is the name of the broadcast group every connection of this role joins.
func (r Role) Group() string {
	return roleGroups[r]
}

func (r Role) String() string {
	return string(r)
}

// Identity is a logical participant as announced during the handshake.
type Identity struct {
	ID   string
	Role Role
}

func (i Identity) IsZero() bool {
	return i.ID == "" && i.Role == ""
}
