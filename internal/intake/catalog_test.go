package intake

import (
	"testing"

	"github.com/ashureev/intake-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_CoversEveryStep(t *testing.T) {
	c := DefaultCatalog()
	for _, step := range Steps {
		contract := c.Contract(step, NewState())
		assert.Equal(t, step, contract.Step)
		assert.NotEmpty(t, contract.Instructions, step)
		assert.NotEmpty(t, contract.InputLabel, step)
		assert.NotContains(t, contract.Instructions, "{{", step)
		for _, field := range step.Fields() {
			assert.Contains(t, contract.Fields, field, "step %s", step)
		}
	}
}

func TestCatalog_BlindSpotNextQuestion(t *testing.T) {
	c := DefaultCatalog()

	commuting := NewState()
	commuting.Draft.Use = domain.UseCommuting
	got := c.Contract(StepBlindSpot, commuting)
	assert.Contains(t, got.Instructions, commuteDaysQuestion)
	assert.NotContains(t, got.Instructions, annualMileageQuestion)

	farming := NewState()
	farming.Draft.Use = domain.UseFarming
	got = c.Contract(StepBlindSpot, farming)
	assert.Contains(t, got.Instructions, annualMileageQuestion)
	assert.NotContains(t, got.Instructions, commuteDaysQuestion)
}

func TestCatalog_ContractIsPure(t *testing.T) {
	c := DefaultCatalog()
	a := c.Contract(StepZip, NewState())
	a.Fields[0] = "mutated"

	b := c.Contract(StepZip, NewState())
	assert.Equal(t, []string{"zip"}, b.Fields)
}

func TestCatalog_UnknownStepPanics(t *testing.T) {
	assert.Panics(t, func() {
		DefaultCatalog().Contract(Step("favourite_colour"), NewState())
	})
}

func TestContract_UserContent(t *testing.T) {
	c := DefaultCatalog().Contract(StepZip, NewState())
	assert.Equal(t, "Validate this ZIP code: 12345", c.UserContent("12345"))
}

func TestLoadCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "zip: [unterminated"},
		{"unknown step", "favourite_colour:\n  input_label: x\n  instructions: y\n"},
		{"missing steps", "zip:\n  input_label: x\n  instructions: y\n  fields: [zip]\n"},
		{"bad template", "zip:\n  input_label: x\n  instructions: \"{{.Nope}}\"\n"},
		{"empty label", "zip:\n  instructions: y\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestLoadCatalog_EmbeddedDocument(t *testing.T) {
	c, err := LoadCatalog(promptsYAML)
	require.NoError(t, err)
	assert.Len(t, c.entries, len(Steps))
}
