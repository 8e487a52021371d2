package adapter

import (
	"context"
	"fmt"
	"sync/atomic"
)

// KeyPool rotates calls round-robin across adapters that front the same
// provider with different credentials. The rotation counter lives on the
// pool, so independent pools never interfere.
type KeyPool struct {
	name    string
	members []Adapter
	next    atomic.Uint64
}

// NewKeyPool creates a pool over one or more adapters.
func NewKeyPool(name string, members ...Adapter) (*KeyPool, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("key pool %s: at least one adapter is required", name)
	}
	for i, m := range members {
		if m == nil {
			return nil, fmt.Errorf("key pool %s: adapter %d is nil", name, i)
		}
	}
	return &KeyPool{name: name, members: members}, nil
}

// Name returns the pool identifier.
func (p *KeyPool) Name() string {
	return p.name
}

// Models returns the models of the first member.
func (p *KeyPool) Models() []string {
	return p.members[0].Models()
}

// Size returns the number of credentials in rotation.
func (p *KeyPool) Size() int {
	return len(p.members)
}

// Pick returns the adapter for the next call and advances the rotation by one.
func (p *KeyPool) Pick() Adapter {
	idx := (p.next.Add(1) - 1) % uint64(len(p.members))
	return p.members[idx]
}

// Generate forwards to the next adapter in rotation.
func (p *KeyPool) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	return p.Pick().Generate(ctx, model, prompt)
}
