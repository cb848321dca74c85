package batch

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/vmware2scw/vmware2scw/internal/pipeline"
	"github.com/vmware2scw/vmware2scw/internal/plan"
	"github.com/vmware2scw/vmware2scw/pkg/metrics"
)

// acquisitionOrder is the single fixed order every stage acquires in. Two
// stages holding overlapping resource sets can never deadlock as long as
// both follow it.
var acquisitionOrder = map[string]int{
	plan.ResourceGlobal:   0,
	plan.ResourcePerHost:  1,
	plan.ResourceDiskIO:   2,
	plan.ResourceS3Upload: 3,
	plan.ResourceScwAPI:   4,
}

// SemaphoreSet holds the independent counting semaphores, one per resource
// class, with the per-ESXi-host class fanned out into one semaphore per
// host name. Independence is the point: a VM uploading does not block
// another converting.
type SemaphoreSet struct {
	caps map[string]int

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

var _ pipeline.Limiter = (*SemaphoreSet)(nil)

// NewSemaphoreSet builds semaphores from the plan's concurrency caps.
// Missing classes get schema defaults.
func NewSemaphoreSet(caps map[string]int) *SemaphoreSet {
	merged := plan.DefaultConcurrency()
	for k, v := range caps {
		if v > 0 {
			merged[k] = v
		}
	}
	return &SemaphoreSet{
		caps: merged,
		sems: make(map[string]*semaphore.Weighted),
	}
}

func (s *SemaphoreSet) sem(class, host string) *semaphore.Weighted {
	key := class
	if class == plan.ResourcePerHost {
		key = class + ":" + host
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sem, ok := s.sems[key]; ok {
		return sem
	}
	cap, ok := s.caps[class]
	if !ok || cap <= 0 {
		cap = 1
	}
	sem := semaphore.NewWeighted(int64(cap))
	s.sems[key] = sem
	return sem
}

// Acquire takes every requested resource in the fixed order and returns a
// release closure. On failure everything already held is released.
func (s *SemaphoreSet) Acquire(ctx context.Context, resources []pipeline.Resource) (func(), error) {
	ordered := make([]pipeline.Resource, len(resources))
	copy(ordered, resources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return acquisitionOrder[ordered[i].Class] < acquisitionOrder[ordered[j].Class]
	})

	var held []*semaphore.Weighted
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}

	for _, r := range ordered {
		sem := s.sem(r.Class, r.Host)
		if err := sem.Acquire(ctx, 1); err != nil {
			releaseHeld()
			return nil, err
		}
		held = append(held, sem)
	}
	for _, r := range ordered {
		metrics.SemaphoreInFlight.WithLabelValues(r.Class).Inc()
	}

	classes := make([]string, len(ordered))
	for i, r := range ordered {
		classes[i] = r.Class
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, class := range classes {
				metrics.SemaphoreInFlight.WithLabelValues(class).Dec()
			}
			releaseHeld()
		})
	}, nil
}

// AcquireGlobal takes one global slot on behalf of a whole VM pipeline.
func (s *SemaphoreSet) AcquireGlobal(ctx context.Context) (func(), error) {
	return s.Acquire(ctx, []pipeline.Resource{{Class: plan.ResourceGlobal}})
}
