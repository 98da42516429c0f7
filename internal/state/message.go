package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/user/parley/internal/types"
)

// MessageStore is a JSONL-backed append-only message store.
// Messages are stored per conversation in conversations/<id>/messages.jsonl
// and numbered by their line.
type MessageStore struct {
	root  string
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewMessageStore creates a new file-backed MessageStore rooted at the given directory.
func NewMessageStore(root string) *MessageStore {
	return &MessageStore{
		root:  root,
		locks: make(map[int64]*sync.Mutex),
	}
}

// getLock returns the per-conversation mutex, creating one if it doesn't exist.
func (m *MessageStore) getLock(conversationID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lock, ok := m.locks[conversationID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.locks[conversationID] = lock
	return lock
}

func (m *MessageStore) messagesPath(conversationID int64) string {
	return filepath.Join(m.root, "conversations", strconv.FormatInt(conversationID, 10), "messages.jsonl")
}

// load reads every message of a conversation. Caller must hold the lock.
func (m *MessageStore) load(conversationID int64) ([]*types.Message, error) {
	f, err := os.Open(m.messagesPath(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var messages []*types.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		var msg types.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan messages file: %w", err)
	}
	return messages, nil
}

// Save appends msg and assigns its id.
func (m *MessageStore) Save(_ context.Context, msg *types.Message) error {
	lock := m.getLock(msg.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	path := m.messagesPath(msg.ConversationID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}

	existing, err := m.load(msg.ConversationID)
	if err != nil {
		return err
	}
	msg.ID = int64(len(existing)) + 1

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Get returns one message.
func (m *MessageStore) Get(_ context.Context, conversationID, id int64) (*types.Message, error) {
	lock := m.getLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	messages, err := m.load(conversationID)
	if err != nil {
		return nil, err
	}
	if id < 1 || id > int64(len(messages)) {
		return nil, fmt.Errorf("message %d: %w", id, types.ErrNotFound)
	}
	return messages[id-1], nil
}

// Last returns the newest message, or nil for an empty conversation.
func (m *MessageStore) Last(_ context.Context, conversationID int64) (*types.Message, error) {
	lock := m.getLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	messages, err := m.load(conversationID)
	if err != nil || len(messages) == 0 {
		return nil, err
	}
	return messages[len(messages)-1], nil
}

// Thread follows parent links from leafID back to the root and returns the
// chain oldest first.
func (m *MessageStore) Thread(_ context.Context, conversationID, leafID int64) ([]*types.Message, error) {
	lock := m.getLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	messages, err := m.load(conversationID)
	if err != nil {
		return nil, err
	}

	var chain []*types.Message
	for id := leafID; id > 0; {
		if id > int64(len(messages)) {
			return nil, fmt.Errorf("message %d: %w", id, types.ErrNotFound)
		}
		msg := messages[id-1]
		chain = append(chain, msg)
		if msg.ParentID >= id {
			return nil, fmt.Errorf("message %d: parent %d does not precede it", id, msg.ParentID)
		}
		id = msg.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// List returns all messages of a conversation in insertion order.
func (m *MessageStore) List(_ context.Context, conversationID int64) ([]*types.Message, error) {
	lock := m.getLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	return m.load(conversationID)
}
