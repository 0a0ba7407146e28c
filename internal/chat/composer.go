package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/havenhomes/chat-client/internal/cache"
	"github.com/havenhomes/chat-client/internal/model"
	"github.com/havenhomes/chat-client/internal/rest"
	"github.com/havenhomes/chat-client/internal/typing"
)

// ErrEmptyMessage rejects empty or whitespace-only content before any
// network call.
var ErrEmptyMessage = errors.New("chat: message content is empty")

// Composer performs the send operation. A pending message variant, keyed by
// a client-generated temp id, is inserted into the cached page immediately
// so the UI never waits on the round trip; the entry is replaced by the
// server-confirmed record on success and removed on failure.
type Composer struct {
	cache  *cache.Store
	api    *rest.Client
	typing *typing.Coordinator
	userID string
	log    *zap.SugaredLogger
}

func NewComposer(store *cache.Store, api *rest.Client, ty *typing.Coordinator, userID string, log *zap.SugaredLogger) *Composer {
	return &Composer{
		cache:  store,
		api:    api,
		typing: ty,
		userID: userID,
		log:    log,
	}
}

func (c *Composer) Send(ctx context.Context, conversationID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	key := MessagesKey(conversationID)
	tempID := "pending-" + uuid.NewString()
	pendingMsg := model.Message{
		ID:             tempID,
		ConversationID: conversationID,
		SenderID:       c.userID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
		Pending:        true,
	}
	c.cache.Set(key, func(prev any) any {
		return mergeMessages(prev, []model.Message{pendingMsg})
	})

	// the send ends the typing burst
	c.typing.Flush(ctx, conversationID)

	msg, err := c.api.SendMessage(ctx, conversationID, content)
	if err != nil {
		c.cache.Set(key, func(prev any) any {
			return removeMessage(prev, tempID)
		})
		return nil, err
	}

	c.cache.Set(key, func(prev any) any {
		next := removeMessage(prev, tempID)
		// the live echo may already have merged the confirmed id
		return mergeMessages(next, []model.Message{*msg})
	})
	c.cache.Invalidate(key)
	c.cache.Invalidate(KeyConversations)
	return msg, nil
}
