package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fridgeclinic/internal/models"
	"fridgeclinic/internal/redis"

	"github.com/google/uuid"
)

const (
	redisInvalidateChannel = "fridgeclinic:chat:invalidate"
	redisStateTTL          = 30 * time.Minute
)

// invalidateMessage names the conversation that changed. Origin identifies
// the publishing process so it can ignore its own broadcasts.
type invalidateMessage struct {
	ConversationID string `json:"conversation_id"`
	Origin         string `json:"origin"`
}

type stateRedis struct {
	client *redis.Client
	origin string
}

func newStateCache(client *redis.Client) *stateRedis {
	return &stateRedis{client: client, origin: uuid.NewString()}
}

func (r *stateRedis) fromPeer(msg invalidateMessage) bool {
	return msg.Origin != r.origin
}

func historyKey(conversationID string) string {
	return "fridgeclinic:chat:history:" + conversationID
}

// listen delivers invalidations from other replicas until ctx is done.
func (r *stateRedis) listen(ctx context.Context, handler func(invalidateMessage)) {
	if r == nil || !r.client.Enabled() || handler == nil {
		<-ctx.Done()
		return
	}
	pubsub := r.client.Raw().Subscribe(ctx, redisInvalidateChannel)
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var inv invalidateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				slog.Warn("chat invalidation decode failed", "error", err)
				continue
			}
			if !r.fromPeer(inv) {
				continue
			}
			handler(inv)
		}
	}
}

// publishInvalidation broadcast invalidate msg
func (r *stateRedis) publishInvalidation(msg invalidateMessage) {
	if r == nil || !r.client.Enabled() {
		return
	}
	msg.Origin = r.origin
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("chat invalidation marshal failed", "error", err)
		return
	}
	if err := r.client.Publish(context.Background(), redisInvalidateChannel, payload); err != nil {
		slog.Warn("chat publish invalidation failed", "error", err)
	}
}

func (r *stateRedis) cacheHistory(conversationID string, history []models.Message) {
	if r == nil || !r.client.Enabled() || conversationID == "" {
		return
	}
	data, err := json.Marshal(history)
	if err != nil {
		slog.Warn("chat history marshal failed", "error", err)
		return
	}
	if err := r.client.Set(context.Background(), historyKey(conversationID), data, redisStateTTL); err != nil {
		slog.Warn("chat history cache failed", "conversation_id", conversationID, "error", err)
	}
}

func (r *stateRedis) loadHistory(conversationID string) ([]models.Message, bool) {
	if r == nil || !r.client.Enabled() || conversationID == "" {
		return nil, false
	}
	raw, err := r.client.Get(context.Background(), historyKey(conversationID))
	if err != nil {
		if err != redis.ErrCacheMiss {
			slog.Warn("chat history load failed", "conversation_id", conversationID, "error", err)
		}
		return nil, false
	}
	var history []models.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		slog.Warn("chat history decode failed", "conversation_id", conversationID, "error", err)
		return nil, false
	}
	return history, true
}

func (r *stateRedis) invalidateHistory(conversationID string) {
	if r == nil || !r.client.Enabled() || conversationID == "" {
		return
	}
	if err := r.client.Del(context.Background(), historyKey(conversationID)); err != nil {
		slog.Warn("chat history invalidate failed", "conversation_id", conversationID, "error", err)
	}
}
