package domain

import (
	"errors"
	"testing"
)

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestVehicleValidate(t *testing.T) {
	tests := []struct {
		name    string
		vehicle Vehicle
		wantErr bool
	}{
		{
			name: "commuter",
			vehicle: Vehicle{SessionID: "s", VIN: "1HGBH41JXMN109186", UseType: UseCommuting, BlindSpot: "yes",
				CommuteDays: intPtr(5), CommuteMiles: floatPtr(12.5)},
		},
		{
			name: "farming with mileage",
			vehicle: Vehicle{SessionID: "s", VIN: "2022 Honda Civic Sedan", UseType: UseFarming, BlindSpot: "no",
				AnnualMileage: floatPtr(12000)},
		},
		{
			name: "commuter missing miles",
			vehicle: Vehicle{SessionID: "s", VIN: "v", UseType: UseCommuting, BlindSpot: "yes",
				CommuteDays: intPtr(5)},
			wantErr: true,
		},
		{
			name: "commuter with annual mileage",
			vehicle: Vehicle{SessionID: "s", VIN: "v", UseType: UseCommuting, BlindSpot: "yes",
				CommuteDays: intPtr(5), CommuteMiles: floatPtr(3), AnnualMileage: floatPtr(100)},
			wantErr: true,
		},
		{
			name: "business with commute days",
			vehicle: Vehicle{SessionID: "s", VIN: "v", UseType: UseBusiness, BlindSpot: "yes",
				AnnualMileage: floatPtr(100), CommuteDays: intPtr(2)},
			wantErr: true,
		},
		{
			name:    "unknown use",
			vehicle: Vehicle{SessionID: "s", VIN: "v", UseType: "racing", BlindSpot: "yes", AnnualMileage: floatPtr(1)},
			wantErr: true,
		},
		{
			name:    "missing vin",
			vehicle: Vehicle{SessionID: "s", UseType: UseBusiness, BlindSpot: "yes", AnnualMileage: floatPtr(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.vehicle.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidVehicle) {
					t.Fatalf("expected ErrInvalidVehicle, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseUseType(t *testing.T) {
	for _, raw := range []string{"commuting", "commercial", "farming", "business"} {
		if _, ok := ParseUseType(raw); !ok {
			t.Errorf("expected %q to parse", raw)
		}
	}
	if _, ok := ParseUseType("Commuting"); ok {
		t.Error("expected case-sensitive parse to reject Commuting")
	}
}
