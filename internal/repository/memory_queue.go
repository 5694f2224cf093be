package repository

import (
	"context"
	"sync"
	"time"

	"github.com/coinpilot/coinpilot/internal/model"
)

// MemorySignalQueue buffers signals per bot in channels. It serves tests and
// single-process runs where generator and processor share an address space.
type MemorySignalQueue struct {
	mu   sync.Mutex
	size int
	chs  map[int64]chan []byte
}

func NewMemorySignalQueue(size int) *MemorySignalQueue {
	if size <= 0 {
		size = 100
	}
	return &MemorySignalQueue{size: size, chs: make(map[int64]chan []byte)}
}

func (q *MemorySignalQueue) ch(botID int64) chan []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.chs[botID]
	if !ok {
		c = make(chan []byte, q.size)
		q.chs[botID] = c
	}
	return c
}

func (q *MemorySignalQueue) Push(ctx context.Context, botID int64, payload []byte) error {
	select {
	case q.ch(botID) <- append([]byte(nil), payload...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemorySignalQueue) Pop(ctx context.Context, botID int64, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-q.ch(botID):
		return p, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemorySignalQueue) Purge(_ context.Context, botID int64) error {
	c := q.ch(botID)
	for {
		select {
		case <-c:
		default:
			return nil
		}
	}
}

func (q *MemorySignalQueue) Len(_ context.Context, botID int64) (int64, error) {
	return int64(len(q.ch(botID))), nil
}

type MemorySignalHistory struct {
	mu   sync.RWMutex
	max  int
	ids  map[int64][]string
	recs map[string]model.SignalRecord
}

func NewMemorySignalHistory(max int) *MemorySignalHistory {
	if max <= 0 {
		max = 100
	}
	return &MemorySignalHistory{
		max:  max,
		ids:  make(map[int64][]string),
		recs: make(map[string]model.SignalRecord),
	}
}

func (h *MemorySignalHistory) Record(_ context.Context, rec *model.SignalRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	botID := rec.Signal.BotID
	ids := append([]string{rec.Signal.ID}, h.ids[botID]...)
	if len(ids) > h.max {
		for _, id := range ids[h.max:] {
			delete(h.recs, id)
		}
		ids = ids[:h.max]
	}
	h.ids[botID] = ids
	h.recs[rec.Signal.ID] = copyRecord(rec)
	return nil
}

func (h *MemorySignalHistory) Update(_ context.Context, rec *model.SignalRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.recs[rec.Signal.ID]; ok {
		h.recs[rec.Signal.ID] = copyRecord(rec)
	}
	return nil
}

func (h *MemorySignalHistory) Get(_ context.Context, _ int64, signalID string) (*model.SignalRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.recs[signalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyRecord(&rec)
	return &cp, nil
}

func (h *MemorySignalHistory) Recent(_ context.Context, botID int64, limit int) ([]model.SignalRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := h.ids[botID]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]model.SignalRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := h.recs[id]; ok {
			out = append(out, copyRecord(&rec))
		}
	}
	return out, nil
}

func copyRecord(rec *model.SignalRecord) model.SignalRecord {
	cp := *rec
	cp.Executions = append([]model.Execution(nil), rec.Executions...)
	return cp
}
