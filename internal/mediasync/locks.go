package mediasync

import "sync"

// deviceLocks queues callers of one process per device id so that they wait
// here instead of holding a pooled connection while blocked on the database
// lock the Store takes. Entries are reference counted and dropped once no
// goroutine holds or waits on them.
type deviceLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the device's lock is held and returns its release func
func (l *deviceLocks) Lock(deviceID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[deviceID]
	if !ok {
		entry = &lockEntry{}
		l.entries[deviceID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, deviceID)
		}
		l.mu.Unlock()
	}
}

// size returns the number of tracked devices
func (l *deviceLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
