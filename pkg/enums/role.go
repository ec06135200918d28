package enums

import "fmt"

// ActorRole is carried in access tokens and gates HTTP route groups.
type ActorRole string

const (
	ActorRoleUser       ActorRole = "user"
	ActorRoleArbitrator ActorRole = "arbitrator"
	ActorRoleAdmin      ActorRole = "admin"
	ActorRoleSystem     ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleUser,
	ActorRoleArbitrator,
	ActorRoleAdmin,
	ActorRoleSystem,
}

func (r ActorRole) String() string {
	return string(r)
}

func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
