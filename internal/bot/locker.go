package bot

import "sync"

// SymbolLocker сериализует мутирующие операции по символу
//
// Монитор, API принудительного закрытия и обработчик сигналов берут
// один и тот же замок, поэтому два действия над одной позицией не
// пересекаются. Разные символы не блокируют друг друга.
type SymbolLocker struct {
	mu    sync.Mutex
	locks map[string]*symbolLock
}

type symbolLock struct {
	mu   sync.Mutex
	refs int
}

// NewSymbolLocker создаёт пустой набор замков
func NewSymbolLocker() *SymbolLocker {
	return &SymbolLocker{locks: make(map[string]*symbolLock)}
}

// Lock захватывает замок символа, возвращает функцию освобождения
func (l *SymbolLocker) Lock(symbol string) func() {
	l.mu.Lock()
	sl, ok := l.locks[symbol]
	if !ok {
		sl = &symbolLock{}
		l.locks[symbol] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() { l.release(symbol, sl) }
}

// TryLock захватывает замок без ожидания
func (l *SymbolLocker) TryLock(symbol string) (func(), bool) {
	l.mu.Lock()
	sl, ok := l.locks[symbol]
	if !ok {
		sl = &symbolLock{}
		l.locks[symbol] = sl
	}
	if !sl.mu.TryLock() {
		l.mu.Unlock()
		return nil, false
	}
	sl.refs++
	l.mu.Unlock()
	return func() { l.release(symbol, sl) }, true
}

func (l *SymbolLocker) release(symbol string, sl *symbolLock) {
	sl.mu.Unlock()

	l.mu.Lock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, symbol)
	}
	l.mu.Unlock()
}

// Len количество символов с захваченными или ожидаемыми замками
func (l *SymbolLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
