// Package params holds the immutable global parameters of a simulation run
// and loads them from the legacy key=value file, YAML, and the environment.
package params

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidParameters wraps every validation failure.
var ErrInvalidParameters = errors.New("invalid parameters")

var validate = validator.New()

// Parameters controls graph generation and agent stepping. It is not mutated
// once a run starts.
type Parameters struct {
	// Lambda is the exponent of the behavior-change utility function.
	Lambda float64 `yaml:"lambda" json:"lambda" validate:"gte=0"`

	// N is the number of agents.
	N uint32 `yaml:"n" json:"n" validate:"gte=1"`

	// OutConnections caps the number of non-family connections per agent.
	OutConnections uint32 `yaml:"out_connections" json:"out_connections"`

	// PowerPercent is the fraction of the population marked powerful.
	PowerPercent float64 `yaml:"power_percent" json:"power_percent" validate:"gte=0,lte=1"`

	// QIn and QOut are the per-step in-group and out-group sample sizes.
	QIn  uint32 `yaml:"q_in" json:"q_in"`
	QOut uint32 `yaml:"q_out" json:"q_out"`

	// Resist is the baseline resistance to change, clamped to
	// [ResistMin, ResistMax] after the utility terms are applied.
	Resist    float64 `yaml:"resist" json:"resist"`
	ResistMax float64 `yaml:"resist_max" json:"resist_max"`
	ResistMin float64 `yaml:"resist_min" json:"resist_min"`

	// Steps is the number of time slots to simulate.
	Steps uint64 `yaml:"steps" json:"steps"`

	// LinkProb is the probability of each non-family edge attempt succeeding.
	LinkProb float64 `yaml:"link_prob" json:"link_prob" validate:"gte=0,lte=1"`

	// RecipProb is the probability that a non-family edge is mirrored.
	RecipProb float64 `yaml:"recip_prob" json:"recip_prob" validate:"gte=0,lte=1"`
}

// Default returns the parameter set used when no file overrides it.
func Default() Parameters {
	return Parameters{
		Lambda:         1.0,
		N:              1000,
		OutConnections: 10,
		PowerPercent:   0.05,
		QIn:            4,
		QOut:           2,
		Resist:         0.5,
		ResistMax:      0.95,
		ResistMin:      0.05,
		Steps:          100,
		LinkProb:       0.5,
		RecipProb:      0.5,
	}
}

// Validate checks ranges and cross-field constraints.
func (p Parameters) Validate() error {
	if err := validate.Struct(p); err != nil {
		return formatValidationError(err)
	}
	if p.ResistMin > p.ResistMax {
		return fmt.Errorf("%w: resist_min %.3f exceeds resist_max %.3f", ErrInvalidParameters, p.ResistMin, p.ResistMax)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	for _, e := range validationErrs {
		switch e.Tag() {
		case "gte":
			return fmt.Errorf("%w: %s must be at least %s", ErrInvalidParameters, e.Field(), e.Param())
		case "lte":
			return fmt.Errorf("%w: %s must not exceed %s", ErrInvalidParameters, e.Field(), e.Param())
		default:
			return fmt.Errorf("%w: %s failed %s", ErrInvalidParameters, e.Field(), e.Tag())
		}
	}
	return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
}
