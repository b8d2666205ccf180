// Package ride holds the pure lifecycle logic for rides: the status
// transition graph and the role-based policy layered on top of it.
package ride

import (
	"errors"
	"fmt"

	"github.com/example/ride-tracking/internal/models"
)

// ErrConflict marks a transition that is structurally impossible from the
// ride's current status. The ride itself is valid; callers map this to 409.
var ErrConflict = errors.New("conflicting ride state")

// ErrForbidden marks a transition the acting user is not allowed to request.
var ErrForbidden = errors.New("forbidden")

var transitions = map[models.RideStatus][]models.RideStatus{
	models.StatusRequested: {models.StatusAssigned, models.StatusCanceled},
	models.StatusAssigned:  {models.StatusEnroute, models.StatusCanceled},
	models.StatusEnroute:   {models.StatusStarted, models.StatusCanceled},
	models.StatusStarted:   {models.StatusCompleted, models.StatusCanceled},
	models.StatusCompleted: {},
	models.StatusCanceled:  {},
}

// ValidateTransition checks the transition graph. A transition to the
// current status is an idempotent no-op and succeeds.
func ValidateTransition(current, desired models.RideStatus) error {
	if desired == current {
		return nil
	}
	for _, next := range transitions[current] {
		if next == desired {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move from %q to %q", ErrConflict, current, desired)
}

// AuthorizeTransition applies the role policy for a status update request:
// riders may only cancel their own non-terminal rides, drivers may only move
// rides already assigned to them.
func AuthorizeTransition(actor models.Identity, r *models.Ride, desired models.RideStatus) error {
	switch actor.Role {
	case models.RoleRider:
		if r.RiderID != actor.UserID {
			return fmt.Errorf("%w: only the ride rider may update this ride", ErrForbidden)
		}
		if desired != models.StatusCanceled {
			return fmt.Errorf("%w: riders may only cancel rides", ErrForbidden)
		}
		if r.Status.Terminal() {
			return fmt.Errorf("%w: ride is already completed or canceled", ErrConflict)
		}
		return nil
	case models.RoleDriver:
		if r.DriverID == "" {
			return fmt.Errorf("%w: ride must be assigned before status can be updated", ErrConflict)
		}
		if r.DriverID != actor.UserID {
			return fmt.Errorf("%w: ride is not assigned to this driver", ErrForbidden)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
}

// StatusChangedPayload builds the status_changed event payload.
func StatusChangedPayload(from, to models.RideStatus, actorID string) map[string]any {
	return map[string]any{
		"from":       string(from),
		"to":         string(to),
		"by_user_id": actorID,
	}
}

// CanAssign checks the preconditions for a driver self-assignment. The
// availability flag lives in the presence store and is checked separately.
func CanAssign(r *models.Ride, driverID string) error {
	if r.DriverID != "" && r.DriverID != driverID {
		return fmt.Errorf("%w: ride is already assigned to another driver", ErrConflict)
	}
	if r.Status != models.StatusRequested {
		return fmt.Errorf("%w: ride can only be assigned when status is %q", ErrConflict, models.StatusRequested)
	}
	return nil
}
