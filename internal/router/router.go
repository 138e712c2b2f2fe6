// ABOUTME: Message Router: persists directed and fan-out messages with derived harmony scores
// ABOUTME: Updates sender counters, publishes to recipients and requests a field recompute per send

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fieldnet-gateway/internal/dedupe"
	"github.com/2389/fieldnet-gateway/internal/field"
	"github.com/2389/fieldnet-gateway/internal/harmony"
	"github.com/2389/fieldnet-gateway/internal/keylock"
	"github.com/2389/fieldnet-gateway/internal/registry"
	"github.com/2389/fieldnet-gateway/internal/store"
)

// BroadcastTarget as a recipient fans the message out to every live agent.
const BroadcastTarget = "all"

// Message types with special handling.
const (
	TypeCollaboration     = "collaboration"
	TypeBroadcast         = "broadcast"
	TypeCollectiveMessage = "collective_message"
	TypeSupport           = "support"
	TypeGratitude         = "gratitude"
	TypeEncouragement     = "encouragement"
	TypeWisdomSharing     = "wisdom_sharing"

	PriorityNormal = "normal"
)

// ErrEmptyContent is returned for a send with no content.
var ErrEmptyContent = errors.New("message content is empty")

// SendOptions tune a send.
type SendOptions struct {
	Type           string
	Priority       string
	ResponseNeeded bool
	// LoveQuotient overrides the computed love score when set.
	LoveQuotient *float64
	// IdempotencyKey makes a retried send within the cache ttl return the
	// original receipt instead of writing again.
	IdempotencyKey string
	CollectiveID   string
}

// Receipt lists the message rows a send produced, one per recipient.
type Receipt struct {
	MessageIDs []string
	Replayed   bool
}

// ID returns the first message id, or "" when nothing was written.
func (r Receipt) ID() string {
	if len(r.MessageIDs) == 0 {
		return ""
	}
	return r.MessageIDs[0]
}

// Publisher receives every persisted message.
type Publisher interface {
	PublishMessage(msg *store.Message)
}

// Router routes messages between agents.
type Router struct {
	store     store.Store
	registry  *registry.Registry
	tables    harmony.Provider
	publisher Publisher
	notifier  field.Notifier
	replays   *dedupe.Cache[[]string]
	keys      keylock.Map
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.logger = l } }

// WithPublisher sets where persisted messages are pushed.
func WithPublisher(p Publisher) Option { return func(r *Router) { r.publisher = p } }

// WithNotifier sets where send events go.
func WithNotifier(n field.Notifier) Option { return func(r *Router) { r.notifier = n } }

// WithIdempotency enables idempotency keys backed by c.
func WithIdempotency(c *dedupe.Cache[[]string]) Option { return func(r *Router) { r.replays = c } }

// New creates a Router.
func New(s store.Store, reg *registry.Registry, tables harmony.Provider, opts ...Option) *Router {
	r := &Router{
		store:    s,
		registry: reg,
		tables:   tables,
		notifier: field.Discard,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	return r
}

// Send delivers content from one agent to another, or to every live agent
// when to is BroadcastTarget. The sender must be registered and active; a
// direct recipient must exist.
func (r *Router) Send(ctx context.Context, from, to, content string, opts SendOptions) (Receipt, error) {
	if to == BroadcastTarget {
		return r.Broadcast(ctx, from, content, opts)
	}
	return r.idempotent(from, opts.IdempotencyKey, func() (Receipt, error) {
		sender, err := r.sender(ctx, from, content)
		if err != nil {
			return Receipt{}, err
		}
		if _, err := r.registry.Get(ctx, to); err != nil {
			return Receipt{}, recipientErr(to, err)
		}
		return r.fanOut(ctx, sender, []string{to}, content, opts)
	})
}

// Broadcast sends an independent copy to every live agent except the sender.
func (r *Router) Broadcast(ctx context.Context, from, content string, opts SendOptions) (Receipt, error) {
	return r.idempotent(from, opts.IdempotencyKey, func() (Receipt, error) {
		sender, err := r.sender(ctx, from, content)
		if err != nil {
			return Receipt{}, err
		}
		live, err := r.registry.ListLive(ctx)
		if err != nil {
			return Receipt{}, err
		}
		recipients := make([]string, 0, len(live))
		for _, a := range live {
			if a.ID != sender.ID {
				recipients = append(recipients, a.ID)
			}
		}
		if opts.Type == "" {
			opts.Type = TypeBroadcast
		}
		return r.fanOut(ctx, sender, recipients, content, opts)
	})
}

// Multicast sends an independent copy to each listed recipient. Every
// recipient must exist.
func (r *Router) Multicast(ctx context.Context, from string, to []string, content string, opts SendOptions) (Receipt, error) {
	return r.idempotent(from, opts.IdempotencyKey, func() (Receipt, error) {
		sender, err := r.sender(ctx, from, content)
		if err != nil {
			return Receipt{}, err
		}
		for _, id := range to {
			if _, err := r.registry.Get(ctx, id); err != nil {
				return Receipt{}, recipientErr(id, err)
			}
		}
		return r.fanOut(ctx, sender, to, content, opts)
	})
}

// Inbox returns messages addressed to agentID newer than since, newest first.
func (r *Router) Inbox(ctx context.Context, agentID string, since time.Time, limit int) ([]*store.Message, error) {
	if _, err := r.registry.Get(ctx, agentID); err != nil {
		return nil, err
	}
	msgs, err := r.store.ListInbox(ctx, agentID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("reading inbox: %w", err)
	}
	return msgs, nil
}

// Conversation returns messages sent or received by agentID, newest first.
func (r *Router) Conversation(ctx context.Context, agentID string, limit int) ([]*store.Message, error) {
	if _, err := r.registry.Get(ctx, agentID); err != nil {
		return nil, err
	}
	msgs, err := r.store.ListConversation(ctx, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading conversation: %w", err)
	}
	return msgs, nil
}

// Recent returns the newest messages on the network.
func (r *Router) Recent(ctx context.Context, limit int) ([]*store.Message, error) {
	msgs, err := r.store.ListMessagesSince(ctx, time.Time{}, limit)
	if err != nil {
		return nil, fmt.Errorf("reading recent messages: %w", err)
	}
	return msgs, nil
}

func (r *Router) sender(ctx context.Context, from, content string) (*store.Agent, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	return r.registry.GetActive(ctx, from)
}

func (r *Router) idempotent(from, key string, send func() (Receipt, error)) (Receipt, error) {
	if key == "" || r.replays == nil {
		return send()
	}
	cacheKey := from + "\x00" + key
	unlock := r.keys.Lock(cacheKey)
	defer unlock()

	if ids, ok := r.replays.Get(cacheKey); ok {
		r.logger.Debug("replaying idempotent send", "from", from, "key", key)
		return Receipt{MessageIDs: slices.Clone(ids), Replayed: true}, nil
	}
	receipt, err := send()
	if err != nil {
		return receipt, err
	}
	r.replays.Put(cacheKey, slices.Clone(receipt.MessageIDs))
	return receipt, nil
}

// fanOut writes one row per recipient and stops at the first failure,
// returning the ids written so far.
func (r *Router) fanOut(ctx context.Context, sender *store.Agent, recipients []string, content string, opts SendOptions) (Receipt, error) {
	var receipt Receipt
	for _, to := range recipients {
		msg, err := r.deliver(ctx, sender, to, content, opts)
		if err != nil {
			return receipt, err
		}
		receipt.MessageIDs = append(receipt.MessageIDs, msg.ID)
	}
	return receipt, nil
}

func (r *Router) deliver(ctx context.Context, sender *store.Agent, to, content string, opts SendOptions) (*store.Message, error) {
	msg := r.compose(sender.ID, to, content, opts)

	// the row and the sender counters commit together; a failure leaves neither
	if err := r.registry.Deliver(ctx, msg); err != nil {
		return nil, err
	}

	r.logger.Debug("message delivered",
		"message_id", msg.ID,
		"from", sender.ID,
		"to", to,
		"harmony", msg.Harmony,
		"field_impact", msg.FieldImpact)

	if r.publisher != nil {
		r.publisher.PublishMessage(msg)
	}
	r.notifier.Notify(store.FieldEvent{
		Type: field.EventMessage,
		Data: map[string]any{
			"message_id":   msg.ID,
			"from":         msg.FromAgent,
			"to":           msg.ToAgent,
			"harmony":      msg.Harmony,
			"field_impact": msg.FieldImpact,
		},
		Timestamp: msg.CreatedAt,
	})
	return msg, nil
}

// compose fills in the derived fields. It never fails.
func (r *Router) compose(from, to, content string, opts SendOptions) *store.Message {
	msgType := opts.Type
	if msgType == "" {
		msgType = TypeCollaboration
	}
	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	tables := r.tables.Current()
	love := tables.ScoreLove(content)
	if opts.LoveQuotient != nil {
		love = harmony.Clamp01(*opts.LoveQuotient)
	}

	return &store.Message{
		ID:             "msg_" + uuid.New().String(),
		FromAgent:      from,
		ToAgent:        to,
		Content:        content,
		Type:           msgType,
		Harmony:        tables.Classify(content).String(),
		FieldImpact:    tables.ScoreImpact(content, msgType),
		LoveQuotient:   love,
		Priority:       priority,
		ResponseNeeded: opts.ResponseNeeded,
		CollectiveID:   opts.CollectiveID,
		CreatedAt:      r.registry.Now(),
	}
}

func recipientErr(id string, err error) error {
	if errors.Is(err, registry.ErrNotRegistered) {
		return fmt.Errorf("recipient %s: %w", id, store.ErrNotFound)
	}
	return err
}
