package access

import (
	"errors"

	"qms/walkin-queue/internal/models"
)

const (
	RoleAdmin             = "admin"
	RoleReceptionSecurity = "reception_security"
	RoleOperatorQueue     = "operator_queue"
)

var ErrForbidden = errors.New("forbidden")

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID      string
	Role        string
	WindowLabel string
	// QueueType is the lane an operator is assigned to; empty for other roles.
	QueueType models.QueueType
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Policy decides which roles may perform which queue actions.
type Policy struct {
	RestrictOperatorsToLane bool
}

func KnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleReceptionSecurity, RoleOperatorQueue:
		return true
	}
	return false
}

func (p Policy) CanIssue(pr Principal) error {
	if pr.Role == RoleAdmin || pr.Role == RoleReceptionSecurity {
		return nil
	}
	return ErrForbidden
}

// CanOperate covers call-next, repeat, finish and no-show on a lane.
func (p Policy) CanOperate(pr Principal, qt models.QueueType) error {
	switch pr.Role {
	case RoleAdmin:
		return nil
	case RoleOperatorQueue:
		if p.RestrictOperatorsToLane && pr.QueueType != "" && pr.QueueType != qt {
			return ErrForbidden
		}
		return nil
	default:
		return ErrForbidden
	}
}

func (p Policy) CanCancel(pr Principal) error {
	if pr.IsAdmin() {
		return nil
	}
	return ErrForbidden
}

func (p Policy) CanEditSettings(pr Principal) error {
	if pr.IsAdmin() {
		return nil
	}
	return ErrForbidden
}
