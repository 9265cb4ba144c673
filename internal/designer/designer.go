// Package designer hosts the pluggable search algorithms that propose trial
// parameters. A Designer instance holds per-study optimizer state and is not
// safe for concurrent use; callers must serialize access per instance.
package designer

import (
	"fmt"
	"sort"
	"sync"

	"studycore/pkg/domain"
)

// Designer is a stateful search algorithm bound to a single study.
// Implementations own internal optimizer state; Update feeds completed trials
// in and Suggest produces new parameter proposals. Neither method is safe for
// concurrent invocation.
type Designer interface {
	// Update incorporates newly completed trials. Implementations may
	// buffer internally and defer real work until a batch is full.
	Update(trials []domain.Trial) error
	// Suggest produces up to count new proposals; it may legitimately
	// return fewer.
	Suggest(count int) ([]domain.Suggestion, error)
}

// EarlyStopper is an optional capability: designers that can judge whether a
// running trial is worth continuing implement it in addition to Designer.
type EarlyStopper interface {
	// ShouldStop decides whether the given active trial should be halted.
	ShouldStop(trial domain.Trial) (domain.EarlyStopDecision, error)
}

// Factory constructs a Designer for a study, validating at construction time
// that the algorithm can search the study's parameter space.
type Factory func(study domain.Study) (Designer, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a factory available under the given algorithm name.
// Registering a duplicate name panics; registration happens at init time.
func Register(algorithm string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[algorithm]; ok {
		panic(fmt.Sprintf("designer: duplicate registration for %q", algorithm))
	}
	registry[algorithm] = factory
}

// New constructs a designer for the study's configured algorithm. An empty
// algorithm name falls back to random search.
func New(study domain.Study) (Designer, error) {
	algorithm := study.Spec.Algorithm
	if algorithm == "" {
		algorithm = AlgorithmRandom
	}
	registryMu.RLock()
	factory, ok := registry[algorithm]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q", algorithm)
	}
	return factory(study)
}

// Algorithms returns the registered algorithm names in sorted order.
func Algorithms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
