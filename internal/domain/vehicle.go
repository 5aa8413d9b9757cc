package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidVehicle is returned when a vehicle record is incomplete or mixes
// mileage branches.
var ErrInvalidVehicle = errors.New("invalid vehicle")

// UseType is the primary use of a vehicle.
type UseType string

const (
	UseCommuting  UseType = "commuting"
	UseCommercial UseType = "commercial"
	UseFarming    UseType = "farming"
	UseBusiness   UseType = "business"
)

// ParseUseType maps a raw value onto a known use type.
func ParseUseType(s string) (UseType, bool) {
	switch u := UseType(s); u {
	case UseCommuting, UseCommercial, UseFarming, UseBusiness:
		return u, true
	}
	return "", false
}

// Vehicle is a fully collected vehicle belonging to a session.
// Commuting vehicles carry commute days and miles; every other use type
// carries annual mileage instead.
type Vehicle struct {
	SessionID     string    `json:"session_id"`
	Position      int       `json:"position"`
	VIN           string    `json:"vin"`
	UseType       UseType   `json:"use_type"`
	BlindSpot     string    `json:"blind_spot"`
	CommuteDays   *int      `json:"commute_days,omitempty"`
	CommuteMiles  *float64  `json:"commute_miles,omitempty"`
	AnnualMileage *float64  `json:"annual_mileage,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsCommuter returns true if the vehicle follows the commute branch.
func (v *Vehicle) IsCommuter() bool {
	return v.UseType == UseCommuting
}

// Validate checks that the vehicle is fully populated.
func (v *Vehicle) Validate() error {
	if v.SessionID == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidVehicle)
	}
	if v.VIN == "" {
		return fmt.Errorf("%w: missing vin", ErrInvalidVehicle)
	}
	if _, ok := ParseUseType(string(v.UseType)); !ok {
		return fmt.Errorf("%w: unknown use type %q", ErrInvalidVehicle, v.UseType)
	}
	if v.BlindSpot == "" {
		return fmt.Errorf("%w: missing blind spot answer", ErrInvalidVehicle)
	}

	if v.IsCommuter() {
		if v.CommuteDays == nil || v.CommuteMiles == nil {
			return fmt.Errorf("%w: commuting vehicle needs commute days and miles", ErrInvalidVehicle)
		}
		if v.AnnualMileage != nil {
			return fmt.Errorf("%w: commuting vehicle cannot carry annual mileage", ErrInvalidVehicle)
		}
		return nil
	}

	if v.AnnualMileage == nil {
		return fmt.Errorf("%w: %s vehicle needs annual mileage", ErrInvalidVehicle, v.UseType)
	}
	if v.CommuteDays != nil || v.CommuteMiles != nil {
		return fmt.Errorf("%w: %s vehicle cannot carry commute fields", ErrInvalidVehicle, v.UseType)
	}
	return nil
}
