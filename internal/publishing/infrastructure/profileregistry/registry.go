// Package profileregistry implements domain.ProfileProvider as an
// in-memory registry the host application populates, mirroring the
// file-backed stores' mutex-guarded map convention. Profile data belongs
// to the host (group/event-template configuration lives outside this
// engine), so there is nothing to load from disk here: the registry holds
// whatever the host registers with Put or removes with Delete. The engine
// itself calls neither, UpdatePendingForProfile and PurgeProfile included.
package profileregistry

import (
	"context"
	"sync"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// Registry implements domain.ProfileProvider over an in-memory map keyed
// by (targetID, profileKey).
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]domain.Profile)}
}

func key(targetID, profileKey string) string {
	return targetID + "::" + profileKey
}

// GetProfile implements domain.ProfileProvider.
func (r *Registry) GetProfile(ctx context.Context, targetID, profileKey string) (domain.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[key(targetID, profileKey)]
	return p, ok
}

// Put registers or replaces the profile for (targetID, profileKey).
func (r *Registry) Put(targetID, profileKey string, profile domain.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[key(targetID, profileKey)] = profile
}

// Delete removes the profile for (targetID, profileKey), e.g. on
// PurgeProfile.
func (r *Registry) Delete(targetID, profileKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.profiles, key(targetID, profileKey))
}

// Count returns the number of registered profiles, for diagnostics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}
