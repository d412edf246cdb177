package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/media"
	"github.com/matheus3301/parley/internal/metrics"
	"github.com/matheus3301/parley/internal/remote"
	"github.com/matheus3301/parley/internal/store"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned when a send has neither text nor media.
var ErrEmptyMessage = errors.New("message has no text and no media")

// MessageSender delivers a message to the backend.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID chat.ID, text string, files []remote.File) (chat.Message, error)
}

// Identity supplies the signed-in user's id for locally created messages.
type Identity interface {
	UserID() chat.ID
}

// Request is a message the user wants to send.
type Request struct {
	ConversationID chat.ID
	Text           string
	MediaPaths     []string
}

// Pending is a send that has been shown locally but not yet dispatched.
type Pending struct {
	TempID         chat.ID
	ConversationID chat.ID
	Message        chat.Message

	text    string
	uploads []remote.File
}

// SendEvent is the payload of the message.* bus events.
type SendEvent struct {
	ConversationID chat.ID
	TempID         chat.ID
	// Index is the message position within the conversation.
	Index   int
	Message chat.Message
	Failure Failure `json:",omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	// Timeout bounds one dispatch; on expiry the send fails as network.
	// Zero waits for the backend indefinitely.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Orchestrator runs optimistic sends: the message appears in the store as
// pending immediately and is reconciled, by temporary id, once the backend
// answers. A nil journal disables the on-disk outbox.
type Orchestrator struct {
	store   *chat.Store
	sender  MessageSender
	journal *store.DB
	bus     *bus.Bus
	self    Identity
	ids     tempIDs
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(st *chat.Store, sender MessageSender, journal *store.DB, b *bus.Bus, self Identity, opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:   st,
		sender:  sender,
		journal: journal,
		bus:     b,
		self:    self,
		ids:     tempIDs{now: now},
		timeout: opts.Timeout,
		logger:  logging.OrNop(opts.Logger).Named("outbox"),
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Begin resolves attachments, assigns a temporary id and inserts the pending
// message, moving its conversation to the front.
func (o *Orchestrator) Begin(req Request) (*Pending, error) {
	if req.Text == "" && len(req.MediaPaths) == 0 {
		return nil, ErrEmptyMessage
	}
	attachments, err := media.Resolve(req.MediaPaths)
	if err != nil {
		return nil, err
	}

	tempID, now := o.ids.next()
	inserted, err := o.store.BeginPendingSend(chat.Message{
		ID:             tempID,
		ConversationID: req.ConversationID,
		SenderID:       o.self.UserID(),
		Text:           req.Text,
		Medias:         media.Descriptors(attachments),
		SentAt:         now,
	})
	if err != nil {
		return nil, err
	}

	o.journalDo("queued", tempID, func(db *store.DB) error {
		return db.QueueOutbox(&store.OutboxEntry{
			TempID:         string(tempID),
			ConversationID: string(req.ConversationID),
			Body:           req.Text,
			MediaCount:     len(attachments),
		})
	})

	o.logger.Info("message pending",
		zap.String("temp_id", string(tempID)),
		zap.String("conversation_id", string(req.ConversationID)),
		zap.Int("medias", len(attachments)),
	)
	o.publish(bus.KindMessagePending, req.ConversationID, tempID, "")

	return &Pending{
		TempID:         tempID,
		ConversationID: req.ConversationID,
		Message:        inserted,
		text:           req.Text,
		uploads:        media.Uploads(attachments),
	}, nil
}

// Dispatch sends p to the backend and reconciles the result into the store.
// Failures are returned as *SendError.
func (o *Orchestrator) Dispatch(ctx context.Context, p *Pending) (chat.Message, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	o.journalDo("sending", p.TempID, func(db *store.DB) error { return db.MarkOutboxSending(string(p.TempID)) })

	start := time.Now()
	confirmed, err := o.sender.SendMessage(ctx, p.ConversationID, p.text, p.uploads)
	if err != nil {
		return chat.Message{}, o.fail(p, err)
	}

	idx, rerr := o.store.ResolveSend(p.ConversationID, p.TempID, confirmed)
	if rerr != nil {
		// The session was torn down while the call was in flight. Nothing
		// is left to confirm, so no event is published.
		o.logger.Warn("confirmed message no longer in store", zap.Error(rerr), zap.String("temp_id", string(p.TempID)))
	}
	o.journalDo("sent", p.TempID, func(db *store.DB) error {
		return db.MarkOutboxSent(string(p.TempID), string(confirmed.ID))
	})
	o.metrics.SendDone("sent")
	o.logger.Info("message sent",
		zap.String("temp_id", string(p.TempID)),
		zap.String("server_msg_id", string(confirmed.ID)),
		zap.Duration("elapsed", time.Since(start)),
	)

	confirmed.Sent = true
	if rerr != nil {
		return confirmed, nil
	}
	if stored, ok := o.store.MessageAt(p.ConversationID, idx); ok {
		confirmed = stored
	}
	o.bus.Emit(bus.KindMessageConfirmed, SendEvent{
		ConversationID: p.ConversationID,
		TempID:         p.TempID,
		Index:          idx,
		Message:        confirmed,
	})
	return confirmed, nil
}

func (o *Orchestrator) fail(p *Pending, cause error) error {
	failure := Classify(cause)
	_, ferr := o.store.FailSend(p.ConversationID, p.TempID, string(failure))
	if ferr != nil {
		o.logger.Warn("failed message no longer in store", zap.Error(ferr), zap.String("temp_id", string(p.TempID)))
	}
	o.journalDo("failed", p.TempID, func(db *store.DB) error {
		return db.MarkOutboxFailed(string(p.TempID), string(failure), cause.Error())
	})
	o.metrics.SendDone(string(failure))
	o.logger.Warn("message send failed",
		zap.String("temp_id", string(p.TempID)),
		zap.String("failure", string(failure)),
		zap.Error(cause),
	)
	if ferr == nil {
		o.publish(bus.KindMessageFailed, p.ConversationID, p.TempID, failure)
	}
	return &SendError{Failure: failure, Err: cause}
}

// Send is Begin followed by Dispatch.
func (o *Orchestrator) Send(ctx context.Context, req Request) (chat.Message, error) {
	p, err := o.Begin(req)
	if err != nil {
		return chat.Message{}, err
	}
	return o.Dispatch(ctx, p)
}

// SendAsync inserts the pending message and dispatches it in the
// background. The returned message is the pending one.
func (o *Orchestrator) SendAsync(req Request) (chat.Message, error) {
	p, err := o.Begin(req)
	if err != nil {
		return chat.Message{}, err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.Dispatch(o.ctx, p)
	}()
	return p.Message, nil
}

// RecoverInterrupted fails every journaled send that a previous process left
// unfinished, both on disk and in the store.
func (o *Orchestrator) RecoverInterrupted() (int, error) {
	if o.journal == nil {
		return 0, nil
	}
	entries, err := o.journal.FailInterrupted(string(FailureNetwork), "interrupted")
	if err != nil {
		return 0, fmt.Errorf("recover outbox: %w", err)
	}
	for _, e := range entries {
		convID, tempID := chat.ID(e.ConversationID), chat.ID(e.TempID)
		if _, err := o.store.FailSend(convID, tempID, string(FailureNetwork)); err != nil {
			continue
		}
		o.publish(bus.KindMessageFailed, convID, tempID, FailureNetwork)
	}
	if len(entries) > 0 {
		o.logger.Info("marked interrupted sends as failed", zap.Int("count", len(entries)))
	}
	return len(entries), nil
}

// Close cancels in-flight background dispatches and waits for them.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) publish(kind string, convID, tempID chat.ID, failure Failure) {
	evt := SendEvent{ConversationID: convID, TempID: tempID, Index: -1, Failure: failure}
	if c, ok := o.store.Conversation(convID); ok {
		for j := len(c.Messages) - 1; j >= 0; j-- {
			if m := c.Messages[j]; !m.Sent && m.ID == tempID {
				evt.Index, evt.Message = j, m
				break
			}
		}
	}
	o.bus.Emit(kind, evt)
}

func (o *Orchestrator) journalDo(step string, tempID chat.ID, fn func(*store.DB) error) {
	if o.journal == nil {
		return
	}
	if err := fn(o.journal); err != nil {
		o.logger.Error("failed to journal send", zap.String("step", step), zap.String("temp_id", string(tempID)), zap.Error(err))
	}
}
