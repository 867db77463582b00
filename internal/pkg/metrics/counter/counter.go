package counter

import (
	"context"
	"strconv"

	"github.com/podforge/podforge/internal/pkg/cache"
)

const (
	webhookReceivedKey = "webhook:counters:received"
	webhookAppliedKey  = "webhook:counters:applied"
	webhookRejectedKey = "webhook:counters:rejected"
)

// AddWebhookReceived increments the delivery counter for a provider in Redis
func AddWebhookReceived(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookReceivedKey, provider, 1).Err()
}

// AddWebhookApplied increments the applied-event counter for a provider in Redis
func AddWebhookApplied(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookAppliedKey, provider, 1).Err()
}

// AddWebhookRejected increments the rejected-delivery counter for a provider in Redis
func AddWebhookRejected(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookRejectedKey, provider, 1).Err()
}

// WebhookStats holds delivery counters for one provider
type WebhookStats struct {
	Received int64 `json:"received"`
	Applied  int64 `json:"applied"`
	Rejected int64 `json:"rejected"`
}

// GetWebhookStats returns per-provider delivery counters
func GetWebhookStats() (map[string]WebhookStats, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	stats := make(map[string]WebhookStats)
	for key, assign := range map[string]func(*WebhookStats, int64){
		webhookReceivedKey: func(s *WebhookStats, v int64) { s.Received = v },
		webhookAppliedKey:  func(s *WebhookStats, v int64) { s.Applied = v },
		webhookRejectedKey: func(s *WebhookStats, v int64) { s.Rejected = v },
	} {
		data, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		for provider, raw := range data {
			v, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				continue
			}
			entry := stats[provider]
			assign(&entry, v)
			stats[provider] = entry
		}
	}
	return stats, nil
}
