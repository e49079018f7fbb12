package store

import "qms/walkin-queue/internal/models"

const (
	ActionCallNext = "call_next"
	ActionRepeat   = "repeat"
	ActionFinish   = "finish"
	ActionNoShow   = "no_show"
	ActionCancel   = "cancel"
)

var transitionMap = map[string][]string{
	ActionCallNext: {models.StatusWaiting},
	ActionRepeat:   {models.StatusCalled, models.StatusServing},
	ActionFinish:   {models.StatusCalled, models.StatusServing},
	ActionNoShow:   {models.StatusCalled, models.StatusServing},
	ActionCancel:   {models.StatusWaiting},
}

// An empty target keeps the current status (repeat).
var targetStatus = map[string]string{
	ActionCallNext: models.StatusServing,
	ActionRepeat:   "",
	ActionFinish:   models.StatusDone,
	ActionNoShow:   models.StatusNoShow,
	ActionCancel:   models.StatusCancelled,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses an action may be applied to.
func AllowedFrom(action string) []string {
	allowed := transitionMap[action]
	out := make([]string, len(allowed))
	copy(out, allowed)
	return out
}

func TargetStatus(action string) (string, bool) {
	status, ok := targetStatus[action]
	return status, ok
}
