package booking

import (
	"errors"
	"testing"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

func TestTransitionTable(t *testing.T) {
	statuses := []model.Status{
		model.StatusPending, model.StatusConfirmed, model.StatusInProgress,
		model.StatusCompleted, model.StatusCancelled, model.StatusNoShow,
	}
	actions := []model.Action{
		model.ActionConfirm, model.ActionStart, model.ActionComplete, model.ActionCancel, model.ActionNoShow,
	}
	legal := map[model.Status]map[model.Action]model.Status{
		model.StatusPending: {
			model.ActionConfirm: model.StatusConfirmed,
			model.ActionCancel:  model.StatusCancelled,
		},
		model.StatusConfirmed: {
			model.ActionStart:  model.StatusInProgress,
			model.ActionCancel: model.StatusCancelled,
			model.ActionNoShow: model.StatusNoShow,
		},
		model.StatusInProgress: {
			model.ActionComplete: model.StatusCompleted,
			model.ActionNoShow:   model.StatusNoShow,
		},
	}

	for _, from := range statuses {
		for _, action := range actions {
			got, err := Transition(from, action)
			want, ok := legal[from][action]
			if ok {
				if err != nil || got != want {
					t.Fatalf("%s --%s--> expected %s, got %s (%v)", from, action, want, got, err)
				}
				continue
			}
			var te *TransitionError
			if !errors.As(err, &te) {
				t.Fatalf("%s --%s--> expected TransitionError, got %s (%v)", from, action, got, err)
			}
			if te.From != from || te.Action != action {
				t.Fatalf("unexpected error detail %+v", te)
			}
		}
	}
}

func TestTerminalStatusesAcceptNothing(t *testing.T) {
	for _, from := range []model.Status{model.StatusCompleted, model.StatusCancelled, model.StatusNoShow} {
		for _, action := range []model.Action{model.ActionConfirm, model.ActionCancel, model.ActionNoShow} {
			if _, err := Transition(from, action); err == nil {
				t.Fatalf("terminal %s must reject %s", from, action)
			}
		}
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction("no_show"); err != nil || a != model.ActionNoShow {
		t.Fatalf("expected no_show, got %q (%v)", a, err)
	}
	if _, err := ParseAction("reopen"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if _, err := Transition(model.StatusPending, model.Action("reopen")); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for unknown action, got %v", err)
	}
}
