package plan

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/thoas/go-funk"
)

// ValidationError is a fatal pre-run plan defect.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid plan: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid plan: %d problems, first: %s", len(e.Problems), e.Problems[0])
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structural invariants that hold before inventory is
// known: schema version, selector shape, wave references, strategy names.
// Inventory-dependent invariants (Windows type compatibility, disjoint
// waves) are enforced at expansion time.
func Validate(p *Plan) error {
	var problems []string

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("field %s fails %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			return errors.Wrap(err, "validating plan")
		}
	}

	waveNames := funk.Map(p.Waves, func(w Wave) string { return w.Name }).([]string)
	for i, w := range p.Waves {
		if funk.ContainsString(waveNames[:i], w.Name) {
			problems = append(problems, fmt.Sprintf("duplicate wave %q", w.Name))
		}
	}

	for i, m := range p.Migrations {
		switch {
		case m.VMName == "" && m.VMPattern == "":
			problems = append(problems, fmt.Sprintf("migrations[%d]: one of vm_name or vm_pattern is required", i))
		case m.VMName != "" && m.VMPattern != "":
			// The schema leaves this case undefined; reject it rather
			// than guess.
			problems = append(problems, fmt.Sprintf("migrations[%d]: vm_name and vm_pattern are mutually exclusive", i))
		}
		if m.Wave != "" && !funk.ContainsString(waveNames, m.Wave) {
			problems = append(problems, fmt.Sprintf("migrations[%d]: unknown wave %q", i, m.Wave))
		}
		if m.SizingStrategy != "" && !m.SizingStrategy.Valid() {
			problems = append(problems, fmt.Sprintf("migrations[%d]: unknown sizing strategy %q", i, m.SizingStrategy))
		}
		if m.Priority < 0 {
			problems = append(problems, fmt.Sprintf("migrations[%d]: negative priority", i))
		}
	}

	for i, s := range p.Exclude {
		if s.IsEmpty() {
			problems = append(problems, fmt.Sprintf("exclude[%d]: one of vm_name or vm_pattern is required", i))
		}
		if s.VMName != "" && s.VMPattern != "" {
			problems = append(problems, fmt.Sprintf("exclude[%d]: vm_name and vm_pattern are mutually exclusive", i))
		}
	}

	if p.Defaults.SizingStrategy != "" && !p.Defaults.SizingStrategy.Valid() {
		problems = append(problems, fmt.Sprintf("defaults: unknown sizing strategy %q", p.Defaults.SizingStrategy))
	}

	for key, cap := range p.Concurrency {
		if _, ok := DefaultConcurrency()[key]; !ok {
			problems = append(problems, fmt.Sprintf("concurrency: unknown resource class %q", key))
		}
		if cap <= 0 {
			problems = append(problems, fmt.Sprintf("concurrency: cap for %q must be positive", key))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
