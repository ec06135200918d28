package audit

import (
	"github.com/echopay/echopay-backend/pkg/enums"
	"github.com/echopay/echopay-backend/pkg/outbox"
)

// Actor is who performed an audited operation. An empty UserID means the service acted on its own.
type Actor struct {
	UserID string
	Role   enums.ActorRole
}

// System is the actor for sweeps and post-commit hooks.
var System = Actor{Role: enums.ActorRoleSystem}

func (a Actor) UserIDPtr() *string {
	if a.UserID == "" {
		return nil
	}
	id := a.UserID
	return &id
}

// Ref converts the actor into an outbox envelope reference.
func (a Actor) Ref(serviceID string) *outbox.ActorRef {
	return &outbox.ActorRef{
		UserID:    a.UserID,
		Role:      string(a.Role),
		ServiceID: serviceID,
	}
}
