package designer

import (
	"fmt"
	"math/rand"

	"studycore/pkg/domain"
)

// AlgorithmRandom names the uniform random search designer.
const AlgorithmRandom = "RANDOM_SEARCH"

func init() {
	Register(AlgorithmRandom, func(study domain.Study) (Designer, error) {
		return NewRandom(study.Spec, rand.Int63())
	})
}

// Random samples every parameter independently and uniformly. It accepts any
// search space, including conditional ones, and needs no completed trials.
type Random struct {
	spec domain.StudySpec
	rng  *rand.Rand
}

// NewRandom validates the search space and builds a random designer seeded
// deterministically for reproducible tests.
func NewRandom(spec domain.StudySpec, seed int64) (*Random, error) {
	if len(spec.Parameters) == 0 {
		return nil, fmt.Errorf("search space has no parameters")
	}
	if err := validateSpace(spec.Parameters); err != nil {
		return nil, err
	}
	return &Random{spec: spec, rng: rand.New(rand.NewSource(seed))}, nil
}

// Update is a no-op: random search does not learn from completed trials.
func (r *Random) Update([]domain.Trial) error { return nil }

// Suggest returns count independent uniform samples of the search space.
func (r *Random) Suggest(count int) ([]domain.Suggestion, error) {
	if count <= 0 {
		return nil, nil
	}
	out := make([]domain.Suggestion, 0, count)
	for i := 0; i < count; i++ {
		params, err := r.sample(r.spec.Parameters)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Suggestion{Parameters: params})
	}
	return out, nil
}

func (r *Random) sample(specs []domain.ParameterSpec) ([]domain.ParameterValue, error) {
	var values []domain.ParameterValue
	for _, p := range specs {
		switch p.Type {
		case domain.ParameterDouble:
			v := p.MinValue + r.rng.Float64()*(p.MaxValue-p.MinValue)
			values = append(values, domain.DoubleParameter(p.Name, v))
		case domain.ParameterInteger:
			lo, hi := int64(p.MinValue), int64(p.MaxValue)
			v := lo + r.rng.Int63n(hi-lo+1)
			values = append(values, domain.IntParameter(p.Name, v))
		case domain.ParameterCategorical:
			v := p.Categories[r.rng.Intn(len(p.Categories))]
			values = append(values, domain.StringParameter(p.Name, v))
		case domain.ParameterDiscrete:
			v := p.Feasible[r.rng.Intn(len(p.Feasible))]
			values = append(values, domain.DoubleParameter(p.Name, v))
		default:
			return nil, fmt.Errorf("parameter %q has unknown type %q", p.Name, p.Type)
		}
		if len(p.Children) > 0 {
			children, err := r.sample(p.Children)
			if err != nil {
				return nil, err
			}
			values = append(values, children...)
		}
	}
	return values, nil
}

func validateSpace(specs []domain.ParameterSpec) error {
	for _, p := range specs {
		switch p.Type {
		case domain.ParameterDouble, domain.ParameterInteger:
			if p.MaxValue < p.MinValue {
				return fmt.Errorf("parameter %q has empty range [%v, %v]", p.Name, p.MinValue, p.MaxValue)
			}
		case domain.ParameterCategorical:
			if len(p.Categories) == 0 {
				return fmt.Errorf("categorical parameter %q has no categories", p.Name)
			}
		case domain.ParameterDiscrete:
			if len(p.Feasible) == 0 {
				return fmt.Errorf("discrete parameter %q has no feasible points", p.Name)
			}
		default:
			return fmt.Errorf("parameter %q has unknown type %q", p.Name, p.Type)
		}
		if err := validateSpace(p.Children); err != nil {
			return err
		}
	}
	return nil
}
