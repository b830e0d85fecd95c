// Package perf aggregates per-frame pipeline timings over a rolling window.
package perf

import (
	"math"
	"sort"
	"sync"
)

// FrameTimings carries one frame's stage durations in milliseconds.
// Stages holds arbitrary caller-labelled extras on top of the flat fields.
type FrameTimings struct {
	Capture float64
	Upload  float64
	Render  float64
	Input   float64

	// GPU is the measured GPU execution time where the backend can read
	// it; GPUTrusted is false when the value is wall-clock approximation.
	GPU        float64
	GPUTrusted bool

	Stages map[string]float64
}

// StageStats are the derived statistics for one stage across the window.
type StageStats struct {
	Mean float64
	P95  float64
}

// Snapshot is the rolled-up view over the retained history.
type Snapshot struct {
	Frames  int
	Capture StageStats
	Upload  StageStats
	Render  StageStats
	Input   StageStats
	GPU     StageStats

	// Stages unions every label seen across the window; a frame missing a
	// label contributes zero rather than shrinking that label's sample
	// count.
	Stages map[string]StageStats
}

const DefaultCapacity = 120

// Monitor keeps a fixed-capacity ring of frame timings with running sums,
// so recording and mean computation are O(1); p95 sorts the current window
// per query.
type Monitor struct {
	mu       sync.Mutex
	capacity int
	history  []FrameTimings
	head     int
	count    int

	sumCapture float64
	sumUpload  float64
	sumRender  float64
	sumInput   float64
	sumGPU     float64

	// stageCounts tracks how many retained frames carry each label so a
	// label's sum can be dropped once its last holder is evicted.
	stageSums   map[string]float64
	stageCounts map[string]int
}

func NewMonitor(capacity int) *Monitor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Monitor{
		capacity:    capacity,
		history:     make([]FrameTimings, capacity),
		stageSums:   make(map[string]float64),
		stageCounts: make(map[string]int),
	}
}

// Record adds one frame's timings, evicting the oldest entry when the
// window is full, and returns the updated snapshot.
func (m *Monitor) Record(t FrameTimings) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == m.capacity {
		old := m.history[m.head]
		m.sumCapture -= old.Capture
		m.sumUpload -= old.Upload
		m.sumRender -= old.Render
		m.sumInput -= old.Input
		m.sumGPU -= old.GPU
		for k, v := range old.Stages {
			m.stageCounts[k]--
			if m.stageCounts[k] <= 0 {
				delete(m.stageCounts, k)
				delete(m.stageSums, k)
				continue
			}
			m.stageSums[k] -= v
		}
	} else {
		m.count++
	}

	m.history[m.head] = t
	m.head = (m.head + 1) % m.capacity

	m.sumCapture += t.Capture
	m.sumUpload += t.Upload
	m.sumRender += t.Render
	m.sumInput += t.Input
	m.sumGPU += t.GPU
	for k, v := range t.Stages {
		m.stageSums[k] += v
		m.stageCounts[k]++
	}

	return m.snapshotLocked()
}

// GetSnapshot returns statistics over the retained window.
func (m *Monitor) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Reset drops all history.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = 0
	m.count = 0
	m.sumCapture = 0
	m.sumUpload = 0
	m.sumRender = 0
	m.sumInput = 0
	m.sumGPU = 0
	m.stageSums = make(map[string]float64)
	m.stageCounts = make(map[string]int)
}

// Len reports the number of retained entries.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *Monitor) snapshotLocked() Snapshot {
	s := Snapshot{Frames: m.count}
	if m.count == 0 {
		s.Stages = map[string]StageStats{}
		return s
	}

	n := float64(m.count)
	s.Capture = StageStats{Mean: m.sumCapture / n, P95: m.p95Locked(func(t FrameTimings) float64 { return t.Capture })}
	s.Upload = StageStats{Mean: m.sumUpload / n, P95: m.p95Locked(func(t FrameTimings) float64 { return t.Upload })}
	s.Render = StageStats{Mean: m.sumRender / n, P95: m.p95Locked(func(t FrameTimings) float64 { return t.Render })}
	s.Input = StageStats{Mean: m.sumInput / n, P95: m.p95Locked(func(t FrameTimings) float64 { return t.Input })}
	s.GPU = StageStats{Mean: m.sumGPU / n, P95: m.p95Locked(func(t FrameTimings) float64 { return t.GPU })}

	s.Stages = make(map[string]StageStats, len(m.stageSums))
	for label, sum := range m.stageSums {
		// Repeated subtract-on-evict can drift a sum slightly negative;
		// clamp instead of leaking -0.0000001 means.
		if sum < 0 {
			sum = 0
		}
		s.Stages[label] = StageStats{
			Mean: sum / n,
			P95:  m.p95Locked(func(t FrameTimings) float64 { return t.Stages[label] }),
		}
	}
	return s
}

func (m *Monitor) p95Locked(get func(FrameTimings) float64) float64 {
	vals := make([]float64, 0, m.count)
	for i := 0; i < m.count; i++ {
		idx := (m.head - m.count + i + m.capacity) % m.capacity
		vals = append(vals, get(m.history[idx]))
	}
	sort.Float64s(vals)
	k := int(math.Ceil(0.95*float64(len(vals)))) - 1
	if k < 0 {
		k = 0
	}
	return vals[k]
}
