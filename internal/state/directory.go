package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/parley/internal/types"
)

// ConfigurationEntry is a configuration together with the extension values
// its users stored, keyed by user id then extension id.
type ConfigurationEntry struct {
	Configuration types.Configuration
	UserValues    map[string]map[string]map[string]any
}

// Directory serves configurations, users and groups from loaded config. It can
// be swapped wholesale when the config is reloaded.
type Directory struct {
	mu             sync.RWMutex
	configurations map[int64]ConfigurationEntry
	users          map[string]types.User
	groups         map[string]types.UserGroup
}

// NewDirectory creates a directory over the given records.
func NewDirectory(configurations []ConfigurationEntry, users []types.User, groups []types.UserGroup) *Directory {
	d := &Directory{}
	d.Replace(configurations, users, groups)
	return d
}

// Replace swaps every record at once.
func (d *Directory) Replace(configurations []ConfigurationEntry, users []types.User, groups []types.UserGroup) {
	c := make(map[int64]ConfigurationEntry, len(configurations))
	for _, e := range configurations {
		c[e.Configuration.ID] = e
	}
	u := make(map[string]types.User, len(users))
	for _, user := range users {
		u[user.ID] = user
	}
	g := make(map[string]types.UserGroup, len(groups))
	for _, group := range groups {
		g[group.ID] = group
	}

	d.mu.Lock()
	d.configurations, d.users, d.groups = c, u, g
	d.mu.Unlock()
}

// Configurations returns the store view of configurations.
func (d *Directory) Configurations() types.ConfigurationStore { return configurationView{d} }

// Users returns the store view of users.
func (d *Directory) Users() types.UserStore { return userView{d} }

// Groups returns the store view of user groups.
func (d *Directory) Groups() types.UserGroupStore { return groupView{d} }

type configurationView struct{ d *Directory }

func (v configurationView) Get(_ context.Context, id int64) (*types.Configuration, error) {
	v.d.mu.RLock()
	defer v.d.mu.RUnlock()
	e, ok := v.d.configurations[id]
	if !ok {
		return nil, fmt.Errorf("configuration %d: %w", id, types.ErrNotFound)
	}
	c := e.Configuration
	return &c, nil
}

func (v configurationView) UserValues(_ context.Context, configurationID int64, userID string) (map[string]map[string]any, error) {
	v.d.mu.RLock()
	defer v.d.mu.RUnlock()
	e, ok := v.d.configurations[configurationID]
	if !ok {
		return nil, fmt.Errorf("configuration %d: %w", configurationID, types.ErrNotFound)
	}
	return e.UserValues[userID], nil
}

type userView struct{ d *Directory }

func (v userView) Get(_ context.Context, id string) (*types.User, error) {
	v.d.mu.RLock()
	defer v.d.mu.RUnlock()
	u, ok := v.d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, types.ErrNotFound)
	}
	return &u, nil
}

type groupView struct{ d *Directory }

func (v groupView) Get(_ context.Context, id string) (*types.UserGroup, error) {
	v.d.mu.RLock()
	defer v.d.mu.RUnlock()
	g, ok := v.d.groups[id]
	if !ok {
		return nil, fmt.Errorf("user group %s: %w", id, types.ErrNotFound)
	}
	return &g, nil
}
