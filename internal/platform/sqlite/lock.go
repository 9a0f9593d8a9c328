package sqlite

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Lock - реентерабельный мьютекс одного файла базы.
//
// В Go нет идентификатора goroutine, поэтому владение передаётся через контекст:
// Acquire возвращает производный контекст с токеном удержания. Повторный Acquire
// с таким контекстом проходит сразу. После release токен гаснет, и устаревший
// контекст снова ждёт блокировку как обычный.
//
// Удерживающий контекст нельзя передавать в другие goroutine.
type Lock struct {
	name         string
	sem          *semaphore.Weighted
	acquisitions atomic.Int64
}

type holdKey struct{ l *Lock }

type holdToken struct {
	active atomic.Bool
}

func newLock(name string) *Lock {
	return &Lock{name: name, sem: semaphore.NewWeighted(1)}
}

// Name возвращает ключ ресурса, к которому привязана блокировка.
func (l *Lock) Name() string { return l.name }

// Acquisitions - сколько раз блокировка была реально захвачена (без реентерабельных входов).
func (l *Lock) Acquisitions() int64 { return l.acquisitions.Load() }

// Held сообщает, удерживает ли ctx эту блокировку.
func (l *Lock) Held(ctx context.Context) bool {
	tok, ok := ctx.Value(holdKey{l}).(*holdToken)
	return ok && tok.active.Load()
}

// Acquire захватывает блокировку. Ожидание прерывается отменой ctx.
// release можно вызывать многократно, действует только первый вызов.
func (l *Lock) Acquire(ctx context.Context) (context.Context, func(), error) {
	if l.Held(ctx) {
		return ctx, func() {}, nil
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ctx, func() {}, err
	}
	return l.hold(ctx)
}

// TryAcquire захватывает блокировку без ожидания.
func (l *Lock) TryAcquire(ctx context.Context) (context.Context, func(), bool) {
	if l.Held(ctx) {
		return ctx, func() {}, true
	}
	if !l.sem.TryAcquire(1) {
		return ctx, func() {}, false
	}
	held, release, _ := l.hold(ctx)
	return held, release, true
}

func (l *Lock) hold(ctx context.Context) (context.Context, func(), error) {
	l.acquisitions.Add(1)

	tok := &holdToken{}
	tok.active.Store(true)

	var once sync.Once
	release := func() {
		once.Do(func() {
			tok.active.Store(false)
			l.sem.Release(1)
		})
	}
	return context.WithValue(ctx, holdKey{l}, tok), release, nil
}

// LockTable хранит по одной блокировке на ключ ресурса.
// Блокировки создаются лениво и не удаляются до конца жизни таблицы,
// поэтому два обращения к одному ключу всегда получают один и тот же *Lock.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*Lock
}

// NewLockTable создаёт пустую таблицу блокировок.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*Lock)}
}

// Get возвращает блокировку для ключа, создавая её при первом обращении.
func (t *LockTable) Get(key string) *Lock {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.locks[key]; ok {
		return l
	}
	l := newLock(key)
	t.locks[key] = l
	return l
}

// Keys возвращает отсортированный список ключей.
func (t *LockTable) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.locks))
	for k := range t.locks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len возвращает количество блокировок в таблице.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
