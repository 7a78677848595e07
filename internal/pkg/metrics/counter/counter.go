package counter

import (
	"context"
	"strconv"

	"billingbridge/internal/pkg/cache"
)

const pipelineKey = "billing:counters:pipeline"

// Counter fields tracked for the event pipeline. Counters are best-effort:
// a failed increment never affects webhook or consumer processing.
const (
	WebhooksReceived  = "webhooks_received"
	WebhooksRejected  = "webhooks_rejected"
	EventsPublished   = "events_published"
	EventsDropped     = "events_dropped"
	MessagesConsumed  = "messages_consumed"
	MessagesDiscarded = "messages_discarded"
)

// Add increments a pipeline counter in Redis.
func Add(field string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, pipelineKey, field, 1).Err()
}

// Snapshot returns all pipeline counters as int64 values.
func Snapshot() (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, pipelineKey).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(data))
	for field, raw := range data {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}
