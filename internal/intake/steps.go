// Package intake implements the insurance onboarding conversation: the fixed
// step graph, the per-step extraction contracts, and the state machine that
// drives one session turn by turn.
package intake

import (
	"regexp"
	"strings"

	"github.com/ashureev/intake-chat/internal/domain"
)

// Step names a node of the intake graph. Values are persisted as the
// session's current step.
type Step string

const (
	StepZip               Step = "zip"
	StepName              Step = "name"
	StepEmail             Step = "email"
	StepAddVehicle        Step = "add_vehicle"
	StepVehicleVIN        Step = "vehicle_vin"
	StepVehicleUse        Step = "vehicle_use"
	StepBlindSpot         Step = "blind_spot"
	StepCommuteDays       Step = "commute_days"
	StepCommuteMiles      Step = "commute_miles"
	StepAnnualMileage     Step = "annual_mileage"
	StepAddAnotherVehicle Step = "add_another_vehicle"
	StepLicenseType       Step = "license_type"
	StepLicenseStatus     Step = "license_status"
)

// InitialStep is where every new session starts.
const InitialStep = StepZip

// Steps lists every node of the graph in declaration order.
var Steps = []Step{
	StepZip,
	StepName,
	StepEmail,
	StepAddVehicle,
	StepVehicleVIN,
	StepVehicleUse,
	StepBlindSpot,
	StepCommuteDays,
	StepCommuteMiles,
	StepAnnualMileage,
	StepAddAnotherVehicle,
	StepLicenseType,
	StepLicenseStatus,
}

// License values accepted from the extractor, lower-cased.
const (
	LicenseForeign    = "foreign"
	LicensePersonal   = "personal"
	LicenseCommercial = "commercial"

	StatusValid     = "valid"
	StatusSuspended = "suspended"
)

var zipPattern = regexp.MustCompile(`^[0-9]{5}$`)

// transition is one row of the step table. apply reads the decision fields it
// needs, writes them into the turn state and returns the successor step. It
// must not touch the state when it reports false.
type transition struct {
	fields           []string
	apply            func(s *State, d Decision) (Step, bool)
	completesVehicle bool
}

var transitions = map[Step]transition{
	StepZip: {
		fields: []string{"zip"},
		apply: func(s *State, d Decision) (Step, bool) {
			zip, ok := d.String("zip")
			if !ok || !zipPattern.MatchString(zip) {
				return "", false
			}
			s.Zip = zip
			return StepName, true
		},
	},
	StepName: {
		fields: []string{"name"},
		apply: func(s *State, d Decision) (Step, bool) {
			name, ok := d.String("name")
			if !ok {
				return "", false
			}
			s.Name = name
			return StepEmail, true
		},
	},
	StepEmail: {
		fields: []string{"email"},
		apply: func(s *State, d Decision) (Step, bool) {
			email, ok := d.String("email")
			if !ok {
				return "", false
			}
			s.Email = email
			return StepAddVehicle, true
		},
	},
	StepAddVehicle: {
		fields: []string{"add_vehicle", "no_vehicle"},
		apply:  applyVehicleChoice,
	},
	StepVehicleVIN: {
		fields: []string{"vin"},
		apply: func(s *State, d Decision) (Step, bool) {
			vin, ok := d.String("vin")
			if !ok {
				return "", false
			}
			s.Draft.VIN = vin
			return StepVehicleUse, true
		},
	},
	StepVehicleUse: {
		fields: []string{"use"},
		apply: func(s *State, d Decision) (Step, bool) {
			raw, ok := d.String("use")
			if !ok {
				return "", false
			}
			use, ok := domain.ParseUseType(strings.ToLower(raw))
			if !ok {
				return "", false
			}
			s.Draft.Use = use
			return StepBlindSpot, true
		},
	},
	StepBlindSpot: {
		fields: []string{"blind_spot"},
		apply: func(s *State, d Decision) (Step, bool) {
			answer, ok := d.YesNo("blind_spot")
			if !ok {
				return "", false
			}
			s.Draft.BlindSpot = answer
			if s.Draft.Use == domain.UseCommuting {
				return StepCommuteDays, true
			}
			return StepAnnualMileage, true
		},
	},
	StepCommuteDays: {
		fields: []string{"days"},
		apply: func(s *State, d Decision) (Step, bool) {
			days, ok := d.Int("days")
			if !ok || days < 1 || days > 7 {
				return "", false
			}
			s.Draft.CommuteDays = &days
			return StepCommuteMiles, true
		},
	},
	StepCommuteMiles: {
		fields: []string{"miles"},
		apply: func(s *State, d Decision) (Step, bool) {
			miles, ok := d.Float("miles")
			if !ok || miles < 0 {
				return "", false
			}
			s.Draft.CommuteMiles = &miles
			return StepAddAnotherVehicle, true
		},
		completesVehicle: true,
	},
	StepAnnualMileage: {
		fields: []string{"mileage"},
		apply: func(s *State, d Decision) (Step, bool) {
			mileage, ok := d.Float("mileage")
			if !ok || mileage < 0 {
				return "", false
			}
			s.Draft.AnnualMileage = &mileage
			return StepAddAnotherVehicle, true
		},
		completesVehicle: true,
	},
	StepAddAnotherVehicle: {
		fields: []string{"add_vehicle", "no_vehicle"},
		apply:  applyVehicleChoice,
	},
	StepLicenseType: {
		fields: []string{"license_type"},
		apply: func(s *State, d Decision) (Step, bool) {
			raw, ok := d.String("license_type")
			if !ok {
				return "", false
			}
			switch licenseType := strings.ToLower(raw); licenseType {
			case LicensePersonal, LicenseCommercial:
				s.LicenseType = licenseType
				return StepLicenseStatus, true
			case LicenseForeign:
				// Foreign licenses finish the intake without a status question.
				s.LicenseType = licenseType
				return StepLicenseType, true
			}
			return "", false
		},
	},
	StepLicenseStatus: {
		fields: []string{"license_status"},
		apply: func(s *State, d Decision) (Step, bool) {
			raw, ok := d.String("license_status")
			if !ok {
				return "", false
			}
			switch status := strings.ToLower(raw); status {
			case StatusValid, StatusSuspended:
				s.LicenseStatus = status
				return StepLicenseStatus, true
			}
			return "", false
		},
	},
}

func applyVehicleChoice(s *State, d Decision) (Step, bool) {
	switch {
	case d.True("add_vehicle"):
		s.Draft = VehicleDraft{}
		return StepVehicleVIN, true
	case d.True("no_vehicle"):
		return StepLicenseType, true
	}
	return "", false
}

func transitionFor(step Step) transition {
	t, ok := transitions[step]
	if !ok {
		panic("intake: no transition for step " + string(step))
	}
	return t
}

// Fields returns the decision keys the step's transition reads.
func (s Step) Fields() []string {
	return append([]string(nil), transitionFor(s).fields...)
}

// Known reports whether s is part of the graph.
func (s Step) Known() bool {
	_, ok := transitions[s]
	return ok
}
