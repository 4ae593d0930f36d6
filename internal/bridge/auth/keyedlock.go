package auth

import "sync"

// LockKey returns the key of the lock shared by every session of one account.
func LockKey(user, region string) string {
	return user + "µ@µ" + region
}

// KeyedLock hands out one mutex per key. Entries are never removed; the key
// space is the set of configured accounts.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex of key and returns its unlock function.
func (l *KeyedLock) Lock(key string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
