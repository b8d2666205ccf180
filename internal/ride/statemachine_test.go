package ride

import (
	"errors"
	"testing"

	"github.com/example/ride-tracking/internal/models"
)

var allStatuses = []models.RideStatus{
	models.StatusRequested, models.StatusAssigned, models.StatusEnroute,
	models.StatusStarted, models.StatusCompleted, models.StatusCanceled,
}

func TestValidateTransitionForwardChain(t *testing.T) {
	chain := []models.RideStatus{
		models.StatusRequested, models.StatusAssigned, models.StatusEnroute,
		models.StatusStarted, models.StatusCompleted,
	}
	for i := 0; i < len(chain)-1; i++ {
		if err := ValidateTransition(chain[i], chain[i+1]); err != nil {
			t.Fatalf("%s -> %s: %v", chain[i], chain[i+1], err)
		}
	}
}

func TestValidateTransitionCancelFromNonTerminal(t *testing.T) {
	for _, s := range allStatuses {
		err := ValidateTransition(s, models.StatusCanceled)
		if s.Terminal() && s != models.StatusCanceled {
			if !errors.Is(err, ErrConflict) {
				t.Fatalf("%s -> canceled: expected conflict, got %v", s, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s -> canceled: %v", s, err)
		}
	}
}

func TestValidateTransitionSameStatusIsNoop(t *testing.T) {
	for _, s := range allStatuses {
		if err := ValidateTransition(s, s); err != nil {
			t.Fatalf("%s -> %s should be a no-op, got %v", s, s, err)
		}
	}
}

func TestValidateTransitionRejectsNonAdjacent(t *testing.T) {
	allowed := map[models.RideStatus][]models.RideStatus{
		models.StatusRequested: {models.StatusAssigned, models.StatusCanceled},
		models.StatusAssigned:  {models.StatusEnroute, models.StatusCanceled},
		models.StatusEnroute:   {models.StatusStarted, models.StatusCanceled},
		models.StatusStarted:   {models.StatusCompleted, models.StatusCanceled},
		models.StatusCompleted: {},
		models.StatusCanceled:  {},
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if from == to {
				continue
			}
			ok := false
			for _, a := range allowed[from] {
				if a == to {
					ok = true
				}
			}
			err := ValidateTransition(from, to)
			if ok && err != nil {
				t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
			}
			if !ok && !errors.Is(err, ErrConflict) {
				t.Fatalf("%s -> %s: expected conflict, got %v", from, to, err)
			}
		}
	}
}

func TestAuthorizeTransitionRiderPolicy(t *testing.T) {
	r := &models.Ride{ID: "ride1", RiderID: "R1", DriverID: "D1", Status: models.StatusEnroute}

	if err := AuthorizeTransition(models.Identity{UserID: "R1", Role: models.RoleRider}, r, models.StatusCanceled); err != nil {
		t.Fatalf("rider cancel should pass: %v", err)
	}
	if err := AuthorizeTransition(models.Identity{UserID: "R1", Role: models.RoleRider}, r, models.StatusStarted); !errors.Is(err, ErrForbidden) {
		t.Fatalf("rider may only cancel, got %v", err)
	}
	if err := AuthorizeTransition(models.Identity{UserID: "R2", Role: models.RoleRider}, r, models.StatusCanceled); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign rider should be forbidden, got %v", err)
	}

	done := &models.Ride{ID: "ride2", RiderID: "R1", Status: models.StatusCompleted}
	if err := AuthorizeTransition(models.Identity{UserID: "R1", Role: models.RoleRider}, done, models.StatusCanceled); !errors.Is(err, ErrConflict) {
		t.Fatalf("cancel of terminal ride should conflict, got %v", err)
	}
}

func TestAuthorizeTransitionDriverPolicy(t *testing.T) {
	r := &models.Ride{ID: "ride1", RiderID: "R1", DriverID: "D1", Status: models.StatusAssigned}

	if err := AuthorizeTransition(models.Identity{UserID: "D1", Role: models.RoleDriver}, r, models.StatusEnroute); err != nil {
		t.Fatalf("assigned driver should pass: %v", err)
	}
	if err := AuthorizeTransition(models.Identity{UserID: "D2", Role: models.RoleDriver}, r, models.StatusEnroute); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other driver should be forbidden, got %v", err)
	}

	unassigned := &models.Ride{ID: "ride2", RiderID: "R1", Status: models.StatusRequested}
	if err := AuthorizeTransition(models.Identity{UserID: "D1", Role: models.RoleDriver}, unassigned, models.StatusEnroute); !errors.Is(err, ErrConflict) {
		t.Fatalf("unassigned ride should conflict, got %v", err)
	}
}

func TestCanAssign(t *testing.T) {
	if err := CanAssign(&models.Ride{Status: models.StatusRequested}, "D1"); err != nil {
		t.Fatalf("requested+unassigned should allow assign: %v", err)
	}
	if err := CanAssign(&models.Ride{Status: models.StatusRequested, DriverID: "D2"}, "D1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("assigned to another driver should conflict, got %v", err)
	}
	if err := CanAssign(&models.Ride{Status: models.StatusAssigned, DriverID: "D1"}, "D1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("non-requested status should conflict, got %v", err)
	}
}
