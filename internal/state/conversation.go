// internal/state/conversation.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/toolchat/internal/types"
	"github.com/user/toolchat/pkg/llm"
)

// maxRecordSize bounds one JSONL line. Assistant answers can be long.
const maxRecordSize = 4 << 20

// FileConversationStore keeps the conversation index in
// conversations/index.json and the turns of each conversation in
// conversations/<id>/turns.jsonl.
type FileConversationStore struct {
	root string
	// mu guards the index. Per-conversation locks guard the turn files.
	mu    sync.Mutex
	locks map[types.ConversationKey]*sync.Mutex
}

// NewFileConversationStore creates a store rooted at the given directory.
func NewFileConversationStore(root string) *FileConversationStore {
	return &FileConversationStore{
		root:  root,
		locks: make(map[types.ConversationKey]*sync.Mutex),
	}
}

func (s *FileConversationStore) dir() string {
	return filepath.Join(s.root, "conversations")
}

func (s *FileConversationStore) indexPath() string {
	return filepath.Join(s.dir(), "index.json")
}

func (s *FileConversationStore) turnsPath(id types.ConversationID) string {
	return filepath.Join(s.dir(), string(id), "turns.jsonl")
}

func (s *FileConversationStore) getLock(key types.ConversationKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

// loadIndex reads index.json keyed by conversation key. Caller holds s.mu.
func (s *FileConversationStore) loadIndex() (map[types.ConversationKey]*types.ConversationIndex, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.ConversationKey]*types.ConversationIndex), nil
		}
		return nil, fmt.Errorf("read conversation index: %w", err)
	}

	var entries []*types.ConversationIndex
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal conversation index: %w", err)
	}

	index := make(map[types.ConversationKey]*types.ConversationIndex, len(entries))
	for _, e := range entries {
		index[e.Key] = e
	}
	return index, nil
}

// saveIndex writes the index sorted by key. Caller holds s.mu.
func (s *FileConversationStore) saveIndex(index map[types.ConversationKey]*types.ConversationIndex) error {
	entries := make([]*types.ConversationIndex, 0, len(index))
	for _, e := range index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation index: %w", err)
	}
	return writeFileAtomic(s.indexPath(), data)
}

func (s *FileConversationStore) lookup(key types.ConversationKey) (*types.ConversationIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	return index[key], nil
}

// Load returns the stored turns for key, or an empty conversation.
func (s *FileConversationStore) Load(_ context.Context, key types.ConversationKey) (llm.Conversation, error) {
	lock := s.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	entry, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return llm.Conversation{}, nil
	}

	f, err := os.Open(s.turnsPath(entry.ID))
	if err != nil {
		if os.IsNotExist(err) {
			return llm.Conversation{}, nil
		}
		return nil, fmt.Errorf("open turns file: %w", err)
	}
	defer f.Close()

	var records []llm.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)
	for scanner.Scan() {
		var r llm.Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan turns file: %w", err)
	}

	conv, err := llm.FromRecords(records)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", key, err)
	}
	return conv, nil
}

// Save replaces the stored turns of key, creating the conversation if
// needed. The turn file is rewritten atomically.
func (s *FileConversationStore) Save(_ context.Context, key types.ConversationKey, conv llm.Conversation) error {
	lock := s.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	now := time.Now()
	entry, ok := index[key]
	if !ok {
		entry = &types.ConversationIndex{
			ID:        types.NewConversationID(),
			Key:       key,
			CreatedAt: now,
		}
		index[key] = entry
	}

	var buf []byte
	for _, r := range llm.ToRecords(conv, now) {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := writeFileAtomic(s.turnsPath(entry.ID), buf); err != nil {
		return err
	}

	entry.Turns = len(conv)
	entry.UpdatedAt = now
	return s.saveIndex(index)
}

// List returns the index entries sorted by key.
func (s *FileConversationStore) List(_ context.Context) ([]*types.ConversationIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*types.ConversationIndex, 0, len(index))
	for _, e := range index {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes a conversation. Deleting an unknown key is not an error.
func (s *FileConversationStore) Delete(_ context.Context, key types.ConversationKey) error {
	lock := s.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	entry, ok := index[key]
	if !ok {
		return nil
	}
	if err := os.RemoveAll(filepath.Dir(s.turnsPath(entry.ID))); err != nil {
		return fmt.Errorf("remove conversation dir: %w", err)
	}
	delete(index, key)
	return s.saveIndex(index)
}

// writeFileAtomic writes to a temp file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
