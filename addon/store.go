package addon

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// Catalog resolves add-on definitions.
type Catalog interface {
	GetAddOn(ctx context.Context, addOnID id.AddOnID) (*AddOn, error)
}

// Store persists purchases.
type Store interface {
	CreateUserAddOn(ctx context.Context, u *UserAddOn) error
	UpdateUserAddOn(ctx context.Context, u *UserAddOn) error
	ListUserAddOns(ctx context.Context, accountID string) ([]*UserAddOn, error)
	CountUserAddOnsSince(ctx context.Context, since time.Time) (int64, error)
}

// MemoryCatalog is an in-process catalog for add-on definitions.
type MemoryCatalog struct {
	mu     sync.RWMutex
	addOns map[string]*AddOn
}

// NewMemoryCatalog returns a catalog seeded with defs. Invalid definitions
// are rejected.
func NewMemoryCatalog(defs ...*AddOn) (*MemoryCatalog, error) {
	c := &MemoryCatalog{addOns: make(map[string]*AddOn)}
	for _, d := range defs {
		if err := c.Put(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Put validates and stores a definition, assigning an ID if missing.
func (c *MemoryCatalog) Put(a *AddOn) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID.IsNil() {
		a.ID = id.NewAddOnID()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *a
	c.addOns[a.ID.String()] = &cp
	return nil
}

// GetAddOn implements Catalog.
func (c *MemoryCatalog) GetAddOn(_ context.Context, addOnID id.AddOnID) (*AddOn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.addOns[addOnID.String()]
	if !ok {
		return nil, types.E(types.KindAddOnNotFound, "%s", addOnID)
	}
	cp := *a
	return &cp, nil
}

// List returns active definitions ordered by name.
func (c *MemoryCatalog) List() []*AddOn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*AddOn, 0, len(c.addOns))
	for _, a := range c.addOns {
		if a.Active {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
