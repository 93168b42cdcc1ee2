package monitor

import "sync"

// symbolLocks serializes all trade mutations for a symbol. The decision
// cycle and exit evaluation for one symbol never run concurrently.
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSymbolLocks() *symbolLocks {
	return &symbolLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the symbol and returns its unlock function.
func (l *symbolLocks) acquire(symbol string) func() {
	l.mu.Lock()
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
