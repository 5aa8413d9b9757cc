package intake

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/ashureev/intake-chat/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

const (
	commuteDaysQuestion   = "How many days per week do you use this vehicle for commuting?"
	annualMileageQuestion = "What's the annual mileage for this vehicle?"
)

// Contract is what the extractor is told for one step: the instructions that
// define a valid answer, the label put in front of the user's input, and the
// decision fields the step may return.
type Contract struct {
	Step         Step
	Instructions string
	InputLabel   string
	Fields       []string
}

// UserContent renders the user half of the extraction exchange.
func (c Contract) UserContent(input string) string {
	return c.InputLabel + ": " + input
}

type promptEntry struct {
	Instructions string   `yaml:"instructions"`
	InputLabel   string   `yaml:"input_label"`
	Fields       []string `yaml:"fields"`
}

type catalogEntry struct {
	tmpl   *template.Template
	label  string
	fields []string
}

// promptContext is the data available to instruction templates.
type promptContext struct {
	NextQuestion string
}

// Catalog maps each step to its extraction contract.
type Catalog struct {
	entries map[Step]catalogEntry
}

// LoadCatalog parses a prompt document. Every step of the graph must have an
// entry and every template must render.
func LoadCatalog(data []byte) (*Catalog, error) {
	var raw map[string]promptEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode prompts: %w", err)
	}

	c := &Catalog{entries: make(map[Step]catalogEntry, len(raw))}
	for name, entry := range raw {
		step := Step(name)
		if !step.Known() {
			return nil, fmt.Errorf("prompt for unknown step %q", name)
		}
		if strings.TrimSpace(entry.Instructions) == "" {
			return nil, fmt.Errorf("step %s: empty instructions", name)
		}
		if entry.InputLabel == "" {
			return nil, fmt.Errorf("step %s: empty input_label", name)
		}

		tmpl, err := template.New(name).Option("missingkey=error").Parse(entry.Instructions)
		if err != nil {
			return nil, fmt.Errorf("step %s: parse instructions: %w", name, err)
		}
		if err := tmpl.Execute(&strings.Builder{}, promptContext{}); err != nil {
			return nil, fmt.Errorf("step %s: render instructions: %w", name, err)
		}

		c.entries[step] = catalogEntry{
			tmpl:   tmpl,
			label:  entry.InputLabel,
			fields: entry.Fields,
		}
	}

	for _, step := range Steps {
		if _, ok := c.entries[step]; !ok {
			return nil, fmt.Errorf("no prompt for step %s", step)
		}
	}
	return c, nil
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the catalog built from the embedded prompts. It
// panics if the embedded document is broken.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		c, err := LoadCatalog(promptsYAML)
		if err != nil {
			panic("intake: embedded prompts: " + err.Error())
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Contract returns the extraction contract for step given the accumulated
// state. An unknown step is a programming error and panics.
func (c *Catalog) Contract(step Step, state State) Contract {
	entry, ok := c.entries[step]
	if !ok {
		panic("intake: no contract for step " + string(step))
	}

	var b strings.Builder
	if err := entry.tmpl.Execute(&b, contextFor(step, state)); err != nil {
		panic(fmt.Sprintf("intake: render contract for %s: %v", step, err))
	}

	return Contract{
		Step:         step,
		Instructions: b.String(),
		InputLabel:   entry.label,
		Fields:       append([]string(nil), entry.fields...),
	}
}

func contextFor(step Step, state State) promptContext {
	var ctx promptContext
	if step == StepBlindSpot {
		ctx.NextQuestion = annualMileageQuestion
		if state.Draft.Use == domain.UseCommuting {
			ctx.NextQuestion = commuteDaysQuestion
		}
	}
	return ctx
}
