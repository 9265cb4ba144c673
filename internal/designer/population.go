package designer

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"studycore/pkg/domain"
)

// AlgorithmPopulation names the population-based evolutionary designer.
const AlgorithmPopulation = "POPULATION_EVOLUTION"

// DefaultPopulationSize is the batch of completed trials consumed per
// internal update when the study does not configure one.
const DefaultPopulationSize = 10

// populationSizeKey is the study metadata key overriding the population size.
const populationSizeKey = "population_size"

func init() {
	Register(AlgorithmPopulation, func(study domain.Study) (Designer, error) {
		size := DefaultPopulationSize
		for _, kv := range study.Metadata {
			if kv.Namespace == "" && kv.Key == populationSizeKey {
				var n int
				if _, err := fmt.Sscanf(kv.Value, "%d", &n); err != nil || n < 2 {
					return nil, fmt.Errorf("invalid %s %q", populationSizeKey, kv.Value)
				}
				size = n
			}
		}
		return NewPopulation(study.Spec, size, rand.Int63())
	})
}

// Population is an evolutionary designer for continuous spaces. It is
// maximization-only internally: objective values from MINIMIZE studies are
// negated before entering the population. Completed trials accumulate until a
// full generation is buffered, then a single update recenters the sampling
// distribution on the better half of the generation and shrinks its spread.
type Population struct {
	spec  domain.StudySpec
	names []string
	lo    []float64
	hi    []float64

	acc   *Accumulator
	mean  []float64
	sigma []float64
	rng   *rand.Rand
}

// NewPopulation validates the search space and builds a population designer.
// It rejects conditional spaces, non-continuous parameters and spaces with
// fewer than two dimensions.
func NewPopulation(spec domain.StudySpec, populationSize int, seed int64) (*Population, error) {
	if len(spec.Parameters) < 2 {
		return nil, fmt.Errorf("population search requires at least 2 parameters, got %d", len(spec.Parameters))
	}
	var names []string
	var lo, hi []float64
	for _, p := range spec.Parameters {
		if p.IsConditional() {
			return nil, fmt.Errorf("parameter %q is conditional; population search requires a flat space", p.Name)
		}
		if p.Type != domain.ParameterDouble {
			return nil, fmt.Errorf("parameter %q has type %s; population search supports only %s", p.Name, p.Type, domain.ParameterDouble)
		}
		if p.MaxValue <= p.MinValue {
			return nil, fmt.Errorf("parameter %q has empty range [%v, %v]", p.Name, p.MinValue, p.MaxValue)
		}
		names = append(names, p.Name)
		lo = append(lo, p.MinValue)
		hi = append(hi, p.MaxValue)
	}
	acc, err := NewAccumulator(populationSize)
	if err != nil {
		return nil, err
	}
	d := &Population{
		spec:  spec,
		names: names,
		lo:    lo,
		hi:    hi,
		acc:   acc,
		mean:  make([]float64, len(names)),
		sigma: make([]float64, len(names)),
		rng:   rand.New(rand.NewSource(seed)),
	}
	for i := range names {
		d.mean[i] = (lo[i] + hi[i]) / 2
		d.sigma[i] = (hi[i] - lo[i]) / 4
	}
	return d, nil
}

// Update pushes completed trials into the generation buffer, running one
// internal evolution step per full generation. All supplied trials are
// drained even when they span multiple generations.
func (d *Population) Update(trials []domain.Trial) error {
	for _, trial := range trials {
		batch, fired := d.acc.Push(trial)
		if !fired {
			continue
		}
		if err := d.evolve(batch); err != nil {
			return err
		}
	}
	return nil
}

type scoredPoint struct {
	point []float64
	score float64
}

func (d *Population) evolve(generation []domain.Trial) error {
	scored := make([]scoredPoint, 0, len(generation))
	for _, trial := range generation {
		point, err := d.pointOf(trial)
		if err != nil {
			return err
		}
		score, ok := trial.Objective(d.spec.Metric.Name)
		if !ok {
			return fmt.Errorf("trial %s has no final value for metric %q", trial.Name, d.spec.Metric.Name)
		}
		if d.spec.Metric.Goal == domain.GoalMinimize {
			score = -score
		}
		scored = append(scored, scoredPoint{point: point, score: score})
	}
	// Recenter on the better half, weighted toward the best.
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	elite := scored[:(len(scored)+1)/2]

	dims := len(d.names)
	mean := make([]float64, dims)
	var totalWeight float64
	for rank, sp := range elite {
		w := math.Log(float64(len(elite))+1) - math.Log(float64(rank)+1)
		totalWeight += w
		for i := 0; i < dims; i++ {
			mean[i] += w * sp.point[i]
		}
	}
	for i := 0; i < dims; i++ {
		mean[i] /= totalWeight
	}
	// Spread follows the elite dispersion around the new mean, floored so
	// the search never collapses to a point.
	for i := 0; i < dims; i++ {
		var variance float64
		for _, sp := range elite {
			delta := sp.point[i] - mean[i]
			variance += delta * delta
		}
		variance /= float64(len(elite))
		floor := (d.hi[i] - d.lo[i]) * 1e-3
		d.sigma[i] = math.Max(math.Sqrt(variance), floor)
		d.mean[i] = mean[i]
	}
	return nil
}

func (d *Population) pointOf(trial domain.Trial) ([]float64, error) {
	byName := make(map[string]float64, len(trial.Parameters))
	for _, pv := range trial.Parameters {
		if v, ok := pv.Float(); ok {
			byName[pv.Name] = v
		}
	}
	point := make([]float64, len(d.names))
	for i, name := range d.names {
		v, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("trial %s is missing parameter %q", trial.Name, name)
		}
		point[i] = v
	}
	return point, nil
}

// Suggest samples count proposals from the current distribution, clipped to
// the parameter bounds.
func (d *Population) Suggest(count int) ([]domain.Suggestion, error) {
	if count <= 0 {
		return nil, nil
	}
	out := make([]domain.Suggestion, 0, count)
	for n := 0; n < count; n++ {
		params := make([]domain.ParameterValue, len(d.names))
		for i, name := range d.names {
			v := d.mean[i] + d.rng.NormFloat64()*d.sigma[i]
			v = math.Min(math.Max(v, d.lo[i]), d.hi[i])
			params[i] = domain.DoubleParameter(name, v)
		}
		out = append(out, domain.Suggestion{Parameters: params})
	}
	return out, nil
}

// Buffered reports how many completed trials await the next full generation.
func (d *Population) Buffered() int { return d.acc.Len() }
