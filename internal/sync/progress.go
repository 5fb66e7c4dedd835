package sync

import (
	gosync "sync"
	"time"
)

// Progress is the live state of one running synchronizer task, read by the
// status surface while the run is still writing heartbeats.
type Progress struct {
	StoreID      string    `json:"storeId"`
	DataType     string    `json:"dataType"`
	Processed    int       `json:"processed"`
	CurrentLabel string    `json:"currentLabel"`
	StartedAt    time.Time `json:"startedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ProgressReporter holds a single current value per (store, dataType),
// written only by the active synchronizer task. Injected rather than global
// so tests and the status surface share the same instance explicitly.
type ProgressReporter interface {
	Start(storeID, dataType string)
	Update(storeID, dataType string, processed int, label string)
	Finish(storeID, dataType string)
	Snapshot(storeID string) map[string]Progress
}

type progressKey struct {
	storeID  string
	dataType string
}

type MemoryProgress struct {
	mu    gosync.Mutex
	tasks map[progressKey]Progress
}

func NewMemoryProgress() *MemoryProgress {
	return &MemoryProgress{tasks: make(map[progressKey]Progress)}
}

func (p *MemoryProgress) Start(storeID, dataType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.tasks[progressKey{storeID, dataType}] = Progress{
		StoreID:   storeID,
		DataType:  dataType,
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (p *MemoryProgress) Update(storeID, dataType string, processed int, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := progressKey{storeID, dataType}
	cur, ok := p.tasks[key]
	if !ok {
		return
	}
	cur.Processed = processed
	cur.CurrentLabel = label
	cur.UpdatedAt = time.Now()
	p.tasks[key] = cur
}

func (p *MemoryProgress) Finish(storeID, dataType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tasks, progressKey{storeID, dataType})
}

// Snapshot returns the in-flight tasks for one store keyed by data type.
func (p *MemoryProgress) Snapshot(storeID string) map[string]Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Progress)
	for key, prog := range p.tasks {
		if key.storeID == storeID {
			out[key.dataType] = prog
		}
	}
	return out
}
