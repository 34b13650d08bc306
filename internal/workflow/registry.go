package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds registered workflows keyed by Workflow.Key, with a
// secondary index of tenant-scoped keys per tenant. Registering an existing
// key replaces the previous workflow.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]Workflow
	byTenant  map[string][]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		workflows: make(map[string]Workflow),
		byTenant:  make(map[string][]string),
	}
}

// Register stores w.
func (r *Registry) Register(w Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := w.Key()
	_, existed := r.workflows[key]
	r.workflows[key] = w
	if tenant := w.TenantID(); tenant != "" && !existed {
		r.byTenant[tenant] = append(r.byTenant[tenant], key)
	}
}

// Get returns the workflow registered under key.
func (r *Registry) Get(key string) (Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workflows[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, key)
	}
	return w, nil
}

// Resolve finds the workflow id for tenantID, preferring the tenant-scoped
// registration over a global one.
func (r *Registry) Resolve(tenantID, id string) (Workflow, error) {
	if tenantID != "" {
		if w, err := r.Get(TenantKey(tenantID, id)); err == nil {
			return w, nil
		}
	}
	return r.Get(id)
}

// TenantKeys returns the keys of workflows bound to tenantID.
func (r *Registry) TenantKeys(tenantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.byTenant[tenantID]...)
}

// ListForTenant returns the workflows available to tenantID: every global
// workflow plus the ones bound to that tenant, sorted by key.
func (r *Registry) ListForTenant(tenantID string) []Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []Workflow
	for _, w := range r.workflows {
		if w.TenantID() == "" {
			res = append(res, w)
		}
	}
	for _, key := range r.byTenant[tenantID] {
		res = append(res, r.workflows[key])
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Key() < res[j].Key()
	})
	return res
}

// Len returns the number of registered workflows.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workflows)
}
