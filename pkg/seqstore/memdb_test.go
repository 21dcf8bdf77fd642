package seqstore

import (
	"context"
	"errors"
	"sync"

	"github.com/luxfi/database"
)

// memDB is an in-memory database.Database for store tests. failWrites makes
// every Put fail to exercise the best-effort persistence path.
type memDB struct {
	mu         sync.RWMutex
	data       map[string][]byte
	failWrites bool
}

var errWriteRefused = errors.New("write refused")

func newMemDB() *memDB {
	return &memDB{data: make(map[string][]byte)}
}

func (m *memDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[string(key)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return val, nil
}

func (m *memDB) Put(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errWriteRefused
	}
	m.data[string(key)] = value
	return nil
}

func (m *memDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *memDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *memDB) Close() error { return nil }

func (m *memDB) Compact(start []byte, limit []byte) error { return nil }

func (m *memDB) NewBatch() database.Batch { return &memBatch{db: m} }

func (m *memDB) NewIterator() database.Iterator { return nil }

func (m *memDB) NewIteratorWithStart(start []byte) database.Iterator { return nil }

func (m *memDB) NewIteratorWithPrefix(prefix []byte) database.Iterator { return nil }

func (m *memDB) NewIteratorWithStartAndPrefix(start, prefix []byte) database.Iterator { return nil }

func (m *memDB) HealthCheck(ctx context.Context) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{"records": len(m.data)}, nil
}

type memBatch struct {
	db  *memDB
	ops []memOp
}

type memOp struct {
	delete bool
	key    []byte
	value  []byte
}

func (b *memBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, memOp{key: key, value: value})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{delete: true, key: key})
	return nil
}

func (b *memBatch) ValueSize() int {
	size := 0
	for _, op := range b.ops {
		size += len(op.value)
	}
	return size
}

func (b *memBatch) Size() int {
	size := 0
	for _, op := range b.ops {
		size += len(op.key) + len(op.value)
	}
	return size
}

func (b *memBatch) Write() error {
	for _, op := range b.ops {
		if op.delete {
			if err := b.db.Delete(op.key); err != nil {
				return err
			}
			continue
		}
		if err := b.db.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}

func (b *memBatch) Reset() { b.ops = b.ops[:0] }

func (b *memBatch) Replay(w database.KeyValueWriterDeleter) error {
	for _, op := range b.ops {
		if op.delete {
			if err := w.Delete(op.key); err != nil {
				return err
			}
		} else if err := w.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}

func (b *memBatch) Inner() database.Batch { return b }
