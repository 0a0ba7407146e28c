package chat

import (
	"sort"

	"github.com/havenhomes/chat-client/internal/model"
)

// Cache keys. The conversation list lives under one key; each
// conversation's message page under its own.
const KeyConversations = "conversations"

func MessagesKey(conversationID string) string {
	return "messages:" + conversationID
}

// mergeMessages folds incoming messages into the cached page, unique by id.
// A message already cached is replaced by the incoming copy except that an
// observed isRead=true is never reverted. Unseen entries are kept.
func mergeMessages(prev any, incoming []model.Message) []model.Message {
	existing, _ := prev.([]model.Message)
	out := make([]model.Message, len(existing))
	copy(out, existing)

	byID := make(map[string]int, len(out))
	for i, m := range out {
		byID[m.ID] = i
	}
	for _, m := range incoming {
		if i, ok := byID[m.ID]; ok {
			if out[i].IsRead {
				m.IsRead = true
			}
			out[i] = m
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// removeMessage drops the entry with the given id, if present.
func removeMessage(prev any, id string) []model.Message {
	existing, _ := prev.([]model.Message)
	out := make([]model.Message, 0, len(existing))
	for _, m := range existing {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

func containsMessage(msgs []model.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

// sortForDisplay orders messages ascending by creation time, ties broken by
// id. Display order is enforced here rather than by arrival order, because
// live events and REST refetches interleave arbitrarily.
func sortForDisplay(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
