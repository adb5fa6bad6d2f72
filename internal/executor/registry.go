package executor

import (
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	v1 "github.com/kination/assetflow/api/v1"
)

// Registry manages executor registration and lookup
type Registry struct {
	mu        sync.RWMutex
	executors map[v1.TaskType]Executor
}

// NewRegistry creates a new executor registry
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[v1.TaskType]Executor),
	}
}

// Register adds an executor to the registry
func (r *Registry) Register(exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, taskType := range exec.Type() {
		r.executors[taskType] = exec
	}
}

// Get retrieves an executor for the given task type
func (r *Registry) Get(taskType v1.TaskType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[taskType]
	if !ok {
		return nil, fmt.Errorf("%w for task type: %s", ErrNoExecutor, taskType)
	}
	return exec, nil
}

// Has checks if an executor is registered for the given task type
func (r *Registry) Has(taskType v1.TaskType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.executors[taskType]
	return ok
}

// Types returns all registered task types, sorted
func (r *Registry) Types() []v1.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sets.List(sets.KeySet(r.executors))
}
