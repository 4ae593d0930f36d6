package bridge

import (
	"sync"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/auth"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/credential"
)

// account is the state shared by every session of one account in one region.
type account struct {
	store    credential.Store
	file     *credential.FileStore
	counters *auth.CounterRegistry
}

// Registry hands out per-account resources, creating each on first use.
type Registry struct {
	locks *auth.KeyedLock

	mu       sync.Mutex
	accounts map[string]*account
}

func NewRegistry() *Registry {
	return &Registry{
		locks:    auth.NewKeyedLock(),
		accounts: make(map[string]*account),
	}
}

// account returns the resources of key, building them with newStore when
// they do not exist yet.
func (r *Registry) account(key credential.Key, newStore func() (credential.Store, *credential.FileStore, error)) (*account, error) {
	lockKey := auth.LockKey(key.User, key.Region)
	unlock := r.locks.Lock(lockKey)
	defer unlock()

	r.mu.Lock()
	a, ok := r.accounts[lockKey]
	r.mu.Unlock()
	if ok {
		return a, nil
	}

	store, file, err := newStore()
	if err != nil {
		return nil, err
	}
	a = &account{store: store, file: file, counters: auth.NewCounterRegistry()}

	r.mu.Lock()
	r.accounts[lockKey] = a
	r.mu.Unlock()
	return a, nil
}
