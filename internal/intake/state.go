package intake

import (
	"fmt"
	"time"

	"github.com/ashureev/intake-chat/internal/domain"
)

// VehicleDraft holds the fields of the vehicle currently being collected.
// It is discarded once the vehicle is persisted.
type VehicleDraft struct {
	VIN           string
	Use           domain.UseType
	BlindSpot     string
	CommuteDays   *int
	CommuteMiles  *float64
	AnnualMileage *float64
}

// Empty reports whether no field has been collected yet.
func (v VehicleDraft) Empty() bool {
	return v == VehicleDraft{}
}

// vehicle builds the persisted record for the draft at the given position.
func (v VehicleDraft) vehicle(sessionID string, position int, now time.Time) (*domain.Vehicle, error) {
	vehicle := &domain.Vehicle{
		SessionID:     sessionID,
		Position:      position,
		VIN:           v.VIN,
		UseType:       v.Use,
		BlindSpot:     v.BlindSpot,
		CommuteDays:   v.CommuteDays,
		CommuteMiles:  v.CommuteMiles,
		AnnualMileage: v.AnnualMileage,
		CreatedAt:     now,
	}
	if err := vehicle.Validate(); err != nil {
		return nil, fmt.Errorf("complete vehicle %d: %w", position, err)
	}
	return vehicle, nil
}

// State is the in-memory turn state of one conversation.
type State struct {
	Step          Step
	Zip           string
	Name          string
	Email         string
	LicenseType   string
	LicenseStatus string
	Vehicles      []domain.Vehicle
	Draft         VehicleDraft
}

// NewState returns the state of a conversation that has not started.
func NewState() State {
	return State{Step: InitialStep}
}

// Complete reports whether the graph has reached a terminal state: a foreign
// license type, or any license status.
func (s State) Complete() bool {
	switch s.Step {
	case StepLicenseType:
		return s.LicenseType == LicenseForeign
	case StepLicenseStatus:
		return s.LicenseStatus != ""
	}
	return false
}

func (s State) clone() State {
	out := s
	out.Vehicles = append([]domain.Vehicle(nil), s.Vehicles...)
	return out
}
