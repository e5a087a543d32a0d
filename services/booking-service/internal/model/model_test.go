package model

import "testing"

func TestStatusClassification(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusInProgress} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	if StatusCancelled.Blocking() || !StatusNoShow.Blocking() {
		t.Fatal("only cancelled appointments release their slot")
	}
	if Status("booked").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestEmployeeIDsDistinctInOrder(t *testing.T) {
	a := Appointment{Items: []AppointmentItem{
		{EmployeeID: "e2"}, {EmployeeID: "e1"}, {EmployeeID: "e2"},
	}}
	got := a.EmployeeIDs()
	if len(got) != 2 || got[0] != "e2" || got[1] != "e1" {
		t.Fatalf("unexpected employees %v", got)
	}
	legacy := Appointment{EmployeeID: "e9"}
	if ids := legacy.EmployeeIDs(); len(ids) != 1 || ids[0] != "e9" {
		t.Fatalf("expected fallback to EmployeeID, got %v", ids)
	}
}
