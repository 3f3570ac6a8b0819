package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hrygo/calliope/plugin/ai"
)

// DefaultWindowSize is the number of messages a conversation window keeps.
const DefaultWindowSize = 10

// ConversationWindow keeps the latest messages of each conversation in
// memory so a turn can be answered with its recent history.
// Thread-safe for concurrent access.
type ConversationWindow struct {
	mu            sync.RWMutex
	conversations map[int32]*windowData
	maxSize       int
	idleTTL       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type windowData struct {
	messages   []ai.Message
	lastAccess time.Time
}

// NewConversationWindow creates a window keeping maxSize messages per
// conversation. Conversations idle for more than an hour are dropped.
func NewConversationWindow(maxSize int) *ConversationWindow {
	if maxSize <= 0 {
		maxSize = DefaultWindowSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &ConversationWindow{
		conversations: make(map[int32]*windowData),
		maxSize:       maxSize,
		idleTTL:       time.Hour,
		ctx:           ctx,
		cancel:        cancel,
	}
	w.wg.Add(1)
	go w.cleanupLoop()
	return w
}

// Close stops the cleanup goroutine.
func (w *ConversationWindow) Close() {
	w.cancel()
	w.wg.Wait()
}

// Recent returns up to limit of the newest messages, oldest first.
// The second result is false when the conversation is not in the window.
func (w *ConversationWindow) Recent(conversationID int32, limit int) ([]ai.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, ok := w.conversations[conversationID]
	if !ok {
		return []ai.Message{}, false
	}
	data.lastAccess = time.Now()

	messages := data.messages
	if limit > 0 && limit < len(messages) {
		messages = messages[len(messages)-limit:]
	}
	result := make([]ai.Message, len(messages))
	copy(result, messages)
	return result, true
}

// Append adds messages to a conversation, evicting the oldest past maxSize.
func (w *ConversationWindow) Append(conversationID int32, messages ...ai.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, ok := w.conversations[conversationID]
	if !ok {
		data = &windowData{messages: make([]ai.Message, 0, w.maxSize)}
		w.conversations[conversationID] = data
	}
	data.messages = append(data.messages, messages...)
	data.lastAccess = time.Now()
	if len(data.messages) > w.maxSize {
		data.messages = data.messages[len(data.messages)-w.maxSize:]
	}
}

// Forget drops a conversation from the window.
func (w *ConversationWindow) Forget(conversationID int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.conversations, conversationID)
}

// Len returns the number of conversations held.
func (w *ConversationWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.conversations)
}

func (w *ConversationWindow) evictIdle(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, data := range w.conversations {
		if now.Sub(data.lastAccess) > w.idleTTL {
			delete(w.conversations, id)
		}
	}
}

func (w *ConversationWindow) cleanupLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case now := <-ticker.C:
			w.evictIdle(now)
		}
	}
}
