package intake

import (
	"testing"

	"github.com/ashureev/intake-chat/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	s := State{
		Zip:           "12345",
		Name:          "John Smith",
		Email:         "john@gmail.com",
		LicenseType:   "personal",
		LicenseStatus: "valid",
		Vehicles:      []domain.Vehicle{{VIN: "A"}},
	}
	want := "Information collected:\n" +
		"- ZIP: 12345\n" +
		"- Name: John Smith\n" +
		"- Email: john@gmail.com\n" +
		"- Vehicles: 1\n" +
		"- License Type: personal\n" +
		"- License Status: valid"
	assert.Equal(t, want, Summarize(s))

	s.LicenseType = "foreign"
	s.LicenseStatus = ""
	assert.Contains(t, Summarize(s), "- License Status: N/A")
}
