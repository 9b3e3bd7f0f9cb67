package chat

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/suPer8Hu/chat-relay/internal/memory"
)

var ErrConversationMismatch = errors.New("chat: record belongs to another conversation")

const DefaultStoreShards = 32

// Snapshot is a copy of a conversation's state. Mutating it does not affect
// the store.
type Snapshot struct {
	// Record is nil until the first turn completes.
	Record *Record
	// Context is the rendered sliding window, oldest turn first.
	Context string
}

// ConversationStore owns the latest record and the sliding window of every
// conversation. Operations on one id are linearised; a reader never sees a
// record without its window update or the other way round.
type ConversationStore interface {
	GetOrCreate(id ConversationID) (Snapshot, error)
	Update(id ConversationID, rec Record) error
	Latest(id ConversationID) (Record, bool)
	Len() int
}

type entry struct {
	mu     sync.Mutex
	record *Record
	window *memory.Window
}

type shard struct {
	mu      sync.Mutex
	entries map[ConversationID]*entry
}

// MemoryStore is an in-process ConversationStore. Keys are spread over
// shards; a shard lock only covers map access and each entry has its own
// lock, so unrelated conversations do not wait on each other. Entries live
// until the process exits.
type MemoryStore struct {
	windowCapacity int
	shards         []*shard
}

var _ ConversationStore = (*MemoryStore)(nil)

func NewMemoryStore(windowCapacity, shards int) *MemoryStore {
	if shards <= 0 {
		shards = DefaultStoreShards
	}
	s := &MemoryStore{
		windowCapacity: windowCapacity,
		shards:         make([]*shard, shards),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[ConversationID]*entry)}
	}
	return s
}

func (s *MemoryStore) shardFor(id ConversationID) *shard {
	var key [32]byte
	copy(key[:16], id.UserID[:])
	copy(key[16:], id.ChatID[:])
	return s.shards[xxhash.Sum64(key[:])%uint64(len(s.shards))]
}

func (s *MemoryStore) lookup(id ConversationID, create bool) *entry {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[id]
	if !ok && create {
		e = &entry{window: memory.New(s.windowCapacity)}
		sh.entries[id] = e
	}
	return e
}

func (s *MemoryStore) GetOrCreate(id ConversationID) (Snapshot, error) {
	e := s.lookup(id, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{Context: e.window.Render()}
	if e.record != nil {
		rec := *e.record
		snap.Record = &rec
	}
	return snap, nil
}

func (s *MemoryStore) Update(id ConversationID, rec Record) error {
	if rec.ConversationID() != id {
		return ErrConversationMismatch
	}
	e := s.lookup(id, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record = &rec
	e.window.Append(rec.MemoryEntry())
	return nil
}

func (s *MemoryStore) Latest(id ConversationID) (Record, bool) {
	e := s.lookup(id, false)
	if e == nil {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record == nil {
		return Record{}, false
	}
	return *e.record, true
}

func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
