package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/parley/internal/types"
)

// ConversationStore is a JSON-file-backed conversation store.
// It keeps the index in conversations/conversations.json; messages of a
// conversation live in conversations/<id>/.
type ConversationStore struct {
	root string
	now  func() time.Time
	mu   sync.RWMutex
}

// NewConversationStore creates a file-backed ConversationStore rooted at the given directory.
func NewConversationStore(root string) *ConversationStore {
	return &ConversationStore{root: root, now: time.Now}
}

func (s *ConversationStore) indexPath() string {
	return filepath.Join(s.root, "conversations", "conversations.json")
}

// loadIndex reads conversations.json and returns a map keyed by id.
func (s *ConversationStore) loadIndex() (map[int64]*types.Conversation, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[int64]*types.Conversation), nil
		}
		return nil, fmt.Errorf("read conversation index: %w", err)
	}

	var conversations []*types.Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		return nil, fmt.Errorf("unmarshal conversation index: %w", err)
	}

	index := make(map[int64]*types.Conversation, len(conversations))
	for _, c := range conversations {
		index[c.ID] = c
	}
	return index, nil
}

// saveIndex writes the index sorted by id, atomically.
func (s *ConversationStore) saveIndex(index map[int64]*types.Conversation) error {
	conversations := make([]*types.Conversation, 0, len(index))
	for _, c := range index {
		conversations = append(conversations, c)
	}
	sort.Slice(conversations, func(i, j int) bool { return conversations[i].ID < conversations[j].ID })

	data, err := json.MarshalIndent(conversations, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation index: %w", err)
	}
	return writeAtomic(s.indexPath(), data)
}

// writeAtomic writes to a temp file then renames it over path.
func writeAtomic(path string, data []byte) error {
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

func nextID(index map[int64]*types.Conversation) int64 {
	var max int64
	for id := range index {
		if id > max {
			max = id
		}
	}
	return max + 1
}

func owned(c *types.Conversation, user *types.User) error {
	if user == nil || c.UserID != user.ID {
		return fmt.Errorf("conversation %d: %w", c.ID, types.ErrForbidden)
	}
	return nil
}

// Get returns the conversation with the given id if user owns it.
func (s *ConversationStore) Get(_ context.Context, id int64, user *types.User) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	c, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("conversation %d: %w", id, types.ErrNotFound)
	}
	if err := owned(c, user); err != nil {
		return nil, err
	}
	return c, nil
}

// Create stores c under a new id.
func (s *ConversationStore) Create(_ context.Context, c *types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	s.create(index, c)
	return s.saveIndex(index)
}

func (s *ConversationStore) create(index map[int64]*types.Conversation, c *types.Conversation) {
	now := s.now()
	c.ID = nextID(index)
	c.CreatedAt = now
	c.UpdatedAt = now
	stored := *c
	index[c.ID] = &stored
}

// ResolveOrCreate returns the conversation bound to key, creating one owned by
// user on first use.
func (s *ConversationStore) ResolveOrCreate(_ context.Context, key types.ConversationKey, user *types.User, configurationID int64) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, c := range index {
		if c.Key == key {
			if err := owned(c, user); err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	c := &types.Conversation{Key: key, UserID: user.ID, ConfigurationID: configurationID}
	s.create(index, c)
	if err := s.saveIndex(index); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns the conversations of userID, most recently updated first.
func (s *ConversationStore) List(_ context.Context, userID string) ([]*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	var out []*types.Conversation
	for _, c := range index {
		if userID == "" || c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Update applies the set fields of update, setting UpdatedAt to now.
func (s *ConversationStore) Update(_ context.Context, id int64, user *types.User, update types.ConversationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	c, ok := index[id]
	if !ok {
		return fmt.Errorf("conversation %d: %w", id, types.ErrNotFound)
	}
	if err := owned(c, user); err != nil {
		return err
	}

	if update.Name != nil {
		c.Name = *update.Name
	}
	if update.NameSetManually != nil {
		c.NameSetManually = *update.NameSetManually
	}
	if update.LLM != nil {
		c.LLM = *update.LLM
	}
	c.UpdatedAt = s.now()
	return s.saveIndex(index)
}
