package booking

import (
	"fmt"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// TransitionError rejects an action that is not legal from the current status.
type TransitionError struct {
	From   model.Status
	Action model.Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s an appointment that is %s", e.Action, e.From)
}

// Transition returns the status reached by applying action to from.
//
//	pending     -> confirmed   (confirm)
//	confirmed   -> in_progress (start)
//	in_progress -> completed   (complete)
//	pending, confirmed       -> cancelled (cancel)
//	confirmed, in_progress   -> no_show   (no_show)
//
// Terminal statuses accept nothing; the way back from a closed date is a reschedule.
func Transition(from model.Status, action model.Action) (model.Status, error) {
	illegal := &TransitionError{From: from, Action: action}
	switch action {
	case model.ActionConfirm:
		if from == model.StatusPending {
			return model.StatusConfirmed, nil
		}
	case model.ActionStart:
		if from == model.StatusConfirmed {
			return model.StatusInProgress, nil
		}
	case model.ActionComplete:
		if from == model.StatusInProgress {
			return model.StatusCompleted, nil
		}
	case model.ActionCancel:
		if from == model.StatusPending || from == model.StatusConfirmed {
			return model.StatusCancelled, nil
		}
	case model.ActionNoShow:
		if from == model.StatusConfirmed || from == model.StatusInProgress {
			return model.StatusNoShow, nil
		}
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, action)
	}
	return "", illegal
}

func ParseAction(s string) (model.Action, error) {
	a := model.Action(s)
	switch a {
	case model.ActionConfirm, model.ActionStart, model.ActionComplete, model.ActionCancel, model.ActionNoShow:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, s)
}
