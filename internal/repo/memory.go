package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/txn"
)

// MemoryConnectorStore - in-memory хранилище connector instances
// с транзакциями и оптимистичной проверкой версий.
//
// Изменения транзакции видны только внутри неё до Complete. При
// фиксации каждая изменённая строка сверяется с версией, прочитанной
// транзакцией; если строку успели изменить, Complete возвращает
// domain.Conflict. Используется в single-process режиме и в тестах.
type MemoryConnectorStore struct {
	mu         sync.Mutex
	connectors map[int64]domain.ConnectorInstance
	versions   map[int64]uint64
	terminal   map[int64]bool // flow node → терминальное состояние
}

type memTxKey struct{}

// memTx - транзакция MemoryConnectorStore.
type memTx struct {
	mu     sync.Mutex
	state  txn.State
	reads  map[int64]uint64
	writes map[int64]domain.ConnectorInstance
}

// NewMemoryConnectorStore создаёт пустое хранилище.
func NewMemoryConnectorStore() *MemoryConnectorStore {
	return &MemoryConnectorStore{
		connectors: make(map[int64]domain.ConnectorInstance),
		versions:   make(map[int64]uint64),
		terminal:   make(map[int64]bool),
	}
}

// Put сохраняет connector instance вне транзакции.
func (s *MemoryConnectorStore) Put(c domain.ConnectorInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	s.connectors[c.ID] = cloneConnector(c)
	s.versions[c.ID]++
	if _, ok := s.terminal[c.FlowNodeInstanceID]; !ok {
		s.terminal[c.FlowNodeInstanceID] = false
	}
}

// SetFlowNodeTerminal отмечает flow node как завершённый (или нет).
func (s *MemoryConnectorStore) SetFlowNodeTerminal(flowNodeID int64, terminal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal[flowNodeID] = terminal
}

// Snapshot возвращает зафиксированное состояние connector instance.
func (s *MemoryConnectorStore) Snapshot(id int64) (domain.ConnectorInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[id]
	return cloneConnector(c), ok
}

// --- txn.TransactionContext ---

// Begin открывает транзакцию.
func (s *MemoryConnectorStore) Begin(ctx context.Context) (context.Context, error) {
	if activeMemTx(ctx) != nil {
		return ctx, txn.ErrNestedTransaction
	}
	t := &memTx{
		state:  txn.StateActive,
		reads:  make(map[int64]uint64),
		writes: make(map[int64]domain.ConnectorInstance),
	}
	return context.WithValue(ctx, memTxKey{}, t), nil
}

// SetRollbackOnly помечает транзакцию для отката.
func (s *MemoryConnectorStore) SetRollbackOnly(ctx context.Context) error {
	t, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return txn.ErrNoTransaction
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == txn.StateActive {
		t.state = txn.StateRollbackOnly
	}
	return nil
}

// Complete фиксирует изменения или отбрасывает их.
func (s *MemoryConnectorStore) Complete(ctx context.Context) error {
	t, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return txn.ErrNoTransaction
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case txn.StateRollbackOnly:
		t.writes = nil
		t.state = txn.StateRolledBack
		return nil
	case txn.StateActive:
	default:
		return fmt.Errorf("complete transaction in state %s", t.state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.writes {
		if read, ok := t.reads[id]; ok && s.versions[id] != read {
			t.writes = nil
			t.state = txn.StateRolledBack
			return domain.Conflict(fmt.Errorf("connector instance %d modified concurrently", id))
		}
	}
	for id, c := range t.writes {
		s.connectors[id] = c
		s.versions[id]++
	}
	t.state = txn.StateCommitted
	return nil
}

// State возвращает состояние транзакции.
func (s *MemoryConnectorStore) State(ctx context.Context) txn.State {
	t, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return txn.StateNoTransaction
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// --- recovery.ConnectorStore ---

// Get возвращает connector instance с учётом изменений текущей транзакции.
func (s *MemoryConnectorStore) Get(ctx context.Context, id int64) (*domain.ConnectorInstance, error) {
	t := activeMemTx(ctx)
	if t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.writes[id]; ok {
			c = cloneConnector(c)
			return &c, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connectors[id]
	if !ok {
		return nil, fmt.Errorf("connector instance %d: %w", id, ErrNotFound)
	}
	if t != nil {
		if _, seen := t.reads[id]; !seen {
			t.reads[id] = s.versions[id]
		}
	}
	c = cloneConnector(c)
	return &c, nil
}

// Update изменяет connector instance. Вне транзакции - сразу.
func (s *MemoryConnectorStore) Update(ctx context.Context, id int64, upd domain.ConnectorUpdate) error {
	t := activeMemTx(ctx)
	if t == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		c, ok := s.connectors[id]
		if !ok {
			return fmt.Errorf("connector instance %d: %w", id, ErrNotFound)
		}
		upd.Apply(&c, time.Now())
		s.connectors[id] = c
		s.versions[id]++
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.writes[id]
	if !ok {
		s.mu.Lock()
		base, exists := s.connectors[id]
		if exists {
			if _, seen := t.reads[id]; !seen {
				t.reads[id] = s.versions[id]
			}
		}
		s.mu.Unlock()
		if !exists {
			return fmt.Errorf("connector instance %d: %w", id, ErrNotFound)
		}
		c = cloneConnector(base)
	}

	upd.Apply(&c, time.Now())
	t.writes[id] = c
	return nil
}

// ListByFlowNode возвращает connector instances flow node в состоянии state.
func (s *MemoryConnectorStore) ListByFlowNode(ctx context.Context, flowNodeID int64, state domain.ConnectorState, offset, limit int) ([]domain.ConnectorInstance, error) {
	view := s.view(ctx)

	var matched []domain.ConnectorInstance
	for _, c := range view {
		if c.FlowNodeInstanceID != flowNodeID {
			continue
		}
		if state != "" && c.State != state {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	return page(matched, offset, limit), nil
}

// ListFlowNodesToRecover возвращает нетерминальные flow nodes
// с connector'ами в EXECUTING или FAILED.
func (s *MemoryConnectorStore) ListFlowNodesToRecover(ctx context.Context, offset, limit int) ([]int64, error) {
	view := s.view(ctx)

	s.mu.Lock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, c := range view {
		if c.State != domain.ConnectorExecuting && c.State != domain.ConnectorFailed {
			continue
		}
		if s.terminal[c.FlowNodeInstanceID] || seen[c.FlowNodeInstanceID] {
			continue
		}
		seen[c.FlowNodeInstanceID] = true
		ids = append(ids, c.FlowNodeInstanceID)
	}
	s.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return page(ids, offset, limit), nil
}

// view возвращает зафиксированные данные, перекрытые изменениями транзакции.
func (s *MemoryConnectorStore) view(ctx context.Context) map[int64]domain.ConnectorInstance {
	s.mu.Lock()
	view := make(map[int64]domain.ConnectorInstance, len(s.connectors))
	for id, c := range s.connectors {
		view[id] = cloneConnector(c)
	}
	s.mu.Unlock()

	if t := activeMemTx(ctx); t != nil {
		t.mu.Lock()
		for id, c := range t.writes {
			view[id] = cloneConnector(c)
		}
		t.mu.Unlock()
	}
	return view
}

func activeMemTx(ctx context.Context) *memTx {
	t, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txn.StateActive && t.state != txn.StateRollbackOnly {
		return nil
	}
	return t
}

func cloneConnector(c domain.ConnectorInstance) domain.ConnectorInstance {
	if c.Failure != nil {
		info := *c.Failure
		c.Failure = &info
	}
	return c
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
