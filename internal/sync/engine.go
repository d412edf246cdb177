package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/outbox"
	"github.com/matheus3301/parley/internal/store"
	"go.uber.org/zap"
)

// ConversationAPI is the backend side of conversation sync.
type ConversationAPI interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	GetOrCreateOneToOneConversation(ctx context.Context, userID chat.ID) (chat.Conversation, error)
}

// MergeEvent is the payload of bus.KindConversationMerged.
type MergeEvent struct {
	ConversationID chat.ID
	Index          int
	Added          bool
}

// PullEvent is the payload of bus.KindConversationsPulled.
type PullEvent struct {
	Count int
	At    time.Time
}

// Engine keeps the SQLite cache in step with the in-memory store. It writes
// conversation snapshots through on every message.* and conversation.*
// event, loads the cache at startup and pulls the full list from the backend.
type Engine struct {
	db          *store.DB
	store       *chat.Store
	api         ConversationAPI
	bus         *bus.Bus
	checkpoints *Checkpoints
	logger      *zap.Logger
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, st *chat.Store, api ConversationAPI, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:          db,
		store:       st,
		api:         api,
		bus:         b,
		checkpoints: NewCheckpoints(db),
		logger:      logging.OrNop(logger).Named("sync"),
	}
}

// Start subscribes to store mutation events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	msgs, unsubMsgs := e.bus.Subscribe("message.", 256)
	convs, unsubConvs := e.bus.Subscribe("conversation.", 64)

	go func() {
		defer close(e.done)
		defer unsubMsgs()
		defer unsubConvs()
		for {
			select {
			case evt := <-msgs:
				e.handleEvent(evt)
			case evt := <-convs:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case outbox.SendEvent:
		e.persist(p.ConversationID, evt.Kind == bus.KindMessagePending)
	case MergeEvent:
		e.persist(p.ConversationID, false)
	}
}

// persist writes the current snapshot of one conversation. A conversation
// that is gone from the store (signed out) is not written.
func (e *Engine) persist(id chat.ID, front bool) {
	c, ok := e.store.Conversation(id)
	if !ok {
		return
	}
	if err := e.db.SaveConversation(c, front); err != nil {
		e.logger.Error("failed to persist conversation", zap.Error(err), zap.String("conversation_id", string(id)))
	}
}

// Warm loads the cached conversations into the store.
func (e *Engine) Warm() (int, error) {
	list, err := e.db.LoadConversations()
	if err != nil {
		return 0, fmt.Errorf("load cache: %w", err)
	}
	e.store.ReplaceAll(list)
	e.logger.Info("cache loaded", zap.Int("conversations", len(list)))
	return len(list), nil
}

// Pull replaces the store and the cache with the backend's conversation list.
// Unconfirmed local messages survive the replace.
func (e *Engine) Pull(ctx context.Context) (int, error) {
	list, err := e.api.ListConversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}
	e.store.ReplaceAll(list)
	if err := e.db.ReplaceConversations(e.store.Conversations()); err != nil {
		return 0, fmt.Errorf("write cache: %w", err)
	}

	now := time.Now()
	if err := e.checkpoints.RecordPull(now); err != nil {
		e.logger.Warn("failed to record pull checkpoint", zap.Error(err))
	}
	e.logger.Info("conversations pulled", zap.Int("count", len(list)))
	e.bus.Emit(bus.KindConversationsPulled, PullEvent{Count: len(list), At: now})
	return len(list), nil
}

// Open gets or creates the one-to-one conversation with userID and merges it
// into the store: replaced in place when known, appended otherwise.
func (e *Engine) Open(ctx context.Context, userID chat.ID) (chat.Conversation, error) {
	c, err := e.api.GetOrCreateOneToOneConversation(ctx, userID)
	if err != nil {
		return chat.Conversation{}, err
	}
	idx, added := e.store.MergeConversation(c)
	e.logger.Debug("conversation merged",
		zap.String("conversation_id", string(c.ID)),
		zap.Int("index", idx),
		zap.Bool("added", added),
	)
	e.bus.Emit(bus.KindConversationMerged, MergeEvent{ConversationID: c.ID, Index: idx, Added: added})

	if merged, ok := e.store.Conversation(c.ID); ok {
		return merged, nil
	}
	return c, nil
}

// LastPull returns when the conversation list was last pulled.
func (e *Engine) LastPull() (time.Time, error) {
	return e.checkpoints.LastPull()
}

// Wipe clears the cache. Registered as a sign-out hook.
func (e *Engine) Wipe() {
	if err := e.db.Wipe(); err != nil {
		e.logger.Error("failed to wipe cache", zap.Error(err))
	}
}
