package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/singleflight"

	"wosbot/internal/shared"
)

// entry - одно физическое соединение с файлом базы и его блокировка.
// Все поля, кроме closed, читаются и меняются только под lock.
type entry struct {
	key      string
	db       *sqlx.DB
	conn     *sqlx.Conn
	lock     *Lock
	memory   bool
	openedAt time.Time

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	savepoints atomic.Uint64
	cursors    map[*Cursor]struct{}
}

// close закрывает открытые курсоры и соединение ровно один раз.
// Вызывающий должен удерживать lock.
func (e *entry) close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		for c := range e.cursors {
			c.closeRows()
		}
		e.cursors = nil
		e.closeErr = errors.Join(e.conn.Close(), e.db.Close())
	})
	return e.closeErr
}

// EntryStats - сводка по зарегистрированному файлу для ops-эндпоинтов.
type EntryStats struct {
	Path         string    `json:"path"`
	OpenedAt     time.Time `json:"opened_at"`
	Acquisitions int64     `json:"acquisitions"`
}

// Manager - реестр соединений. На каждый файл базы приходится одно физическое
// соединение и одна блокировка, все потребители получают один и тот же *Handle.
// ":memory:" в реестр не попадает: каждый вызов Open создаёт отдельную базу.
//
// Manager создаётся явно и передаётся потребителям, глобального состояния нет.
type Manager struct {
	opts   DBOptions
	logger *slog.Logger
	locks  *LockTable
	group  singleflight.Group

	mu      sync.Mutex
	handles map[string]*Handle
	private map[*Handle]struct{}
	closed  bool
}

// NewManager создаёт пустой реестр. Соединения открываются лениво в Open.
func NewManager(opts DBOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:    opts,
		logger:  logger.With("component", "sqlite"),
		locks:   NewLockTable(),
		handles: make(map[string]*Handle),
		private: make(map[*Handle]struct{}),
	}
}

// Open возвращает handle для файла базы, открывая соединение при первом обращении.
// Повторные вызовы для того же файла (в том числе через другой относительный путь
// или симлинк каталога) возвращают тот же *Handle.
func (m *Manager) Open(ctx context.Context, path string) (*Handle, error) {
	if IsMemoryPath(path) {
		return m.openMemory(ctx)
	}

	key, err := ResourceKey(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	if h, err := m.lookup(key); h != nil || err != nil {
		return h, err
	}

	// Параллельные первые открытия одного файла схлопываются в одно,
	// открытия других файлов при этом не ждут.
	v, err, _ := m.group.Do(key, func() (any, error) {
		if h, err := m.lookup(key); h != nil || err != nil {
			return h, err
		}

		lock := m.locks.Get(key)
		db, conn, err := openPhysical(context.WithoutCancel(ctx), key, m.opts)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", key, err)
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			_ = conn.Close()
			_ = db.Close()
			return nil, fmt.Errorf("open %s: %w", key, shared.ErrClosed)
		}

		h := &Handle{mgr: m, e: &entry{
			key:      key,
			db:       db,
			conn:     conn,
			lock:     lock,
			openedAt: time.Now(),
			cursors:  make(map[*Cursor]struct{}),
		}}
		m.handles[key] = h
		m.logger.Info("database opened", "path", key, "wal", m.opts.WALMode, "busy_timeout", m.opts.BusyTimeout)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (m *Manager) lookup(key string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("open %s: %w", key, shared.ErrClosed)
	}
	return m.handles[key], nil
}

// openMemory создаёт приватную in-memory базу со своей блокировкой.
func (m *Manager) openMemory(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("open %s: %w", MemoryPath, shared.ErrClosed)
	}

	db, conn, err := openPhysical(ctx, MemoryPath, m.opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", MemoryPath, err)
	}

	h := &Handle{mgr: m, e: &entry{
		key:      MemoryPath,
		db:       db,
		conn:     conn,
		lock:     newLock(MemoryPath),
		memory:   true,
		openedAt: time.Now(),
		cursors:  make(map[*Cursor]struct{}),
	}}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = conn.Close()
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", MemoryPath, shared.ErrClosed)
	}
	m.private[h] = struct{}{}
	return h, nil
}

// closePrivate закрывает in-memory handle и убирает его из учёта.
func (m *Manager) closePrivate(ctx context.Context, h *Handle) error {
	m.mu.Lock()
	delete(m.private, h)
	m.mu.Unlock()

	_, release, err := h.e.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("close %s: %w", MemoryPath, err)
	}
	defer release()
	return h.e.close()
}

// Paths возвращает отсортированные ключи зарегистрированных файлов.
func (m *Manager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.handles))
	for k := range m.handles {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

// Handles возвращает зарегистрированные handle в порядке ключей.
func (m *Manager) Handles() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].e.key < out[j].e.key })
	return out
}

// Stats возвращает сводку по зарегистрированным файлам.
func (m *Manager) Stats() []EntryStats {
	handles := m.Handles()
	stats := make([]EntryStats, 0, len(handles))
	for _, h := range handles {
		stats = append(stats, h.Stats())
	}
	return stats
}

// Closed сообщает, был ли вызван Shutdown.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Shutdown закрывает все соединения. Для каждого файла сначала дожидается
// его блокировки, чтобы не оборвать операцию на середине. Если ctx истёк
// раньше, файл сразу помечается закрытым (новые операции получают
// shared.ErrClosed), а само соединение закрывается в фоне, когда текущий
// владелец отпустит блокировку; такие файлы перечисляются в возвращаемой ошибке.
// Повторный вызов ничего не делает. После Shutdown Open возвращает shared.ErrClosed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	handles := make([]*Handle, 0, len(m.handles)+len(m.private))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	for h := range m.private {
		handles = append(handles, h)
	}
	m.handles = make(map[string]*Handle)
	m.private = make(map[*Handle]struct{})
	m.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].e.key < handles[j].e.key })

	var errs []error
	for _, h := range handles {
		_, release, err := h.e.lock.Acquire(ctx)
		if err != nil {
			h.e.closed.Store(true)
			m.logger.Warn("database busy, closing after release", "path", h.e.key, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", h.e.key, err))
			go m.closeWhenReleased(h)
			continue
		}
		if cerr := h.e.close(); cerr != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", h.e.key, cerr))
		}
		release()
	}

	m.logger.Info("sqlite manager shut down", "closed", len(handles))
	return errors.Join(errs...)
}

// closeWhenReleased закрывает соединение, как только освободится блокировка файла.
func (m *Manager) closeWhenReleased(h *Handle) {
	_, release, err := h.e.lock.Acquire(context.Background())
	if err != nil {
		return
	}
	defer release()

	if cerr := h.e.close(); cerr != nil {
		m.logger.Warn("deferred close failed", "path", h.e.key, "error", cerr)
		return
	}
	m.logger.Info("deferred close done", "path", h.e.key)
}
