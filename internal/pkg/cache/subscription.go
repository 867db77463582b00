package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// subscriptionTTL bounds staleness when an invalidation is lost (e.g. Redis
// restart between write and delete). Webhook-driven invalidation is the
// primary mechanism.
const subscriptionTTL = 5 * time.Minute

func subscriptionKey(userID uint) string {
	return fmt.Sprintf("billing:subscription:%d", userID)
}

// SetSubscriptionSnapshot stores a serialized subscription view for a user.
func SetSubscriptionSnapshot(userID uint, snapshot interface{}) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return Set(subscriptionKey(userID), string(data), subscriptionTTL)
}

// GetSubscriptionSnapshot loads a cached subscription view into dest.
// Returns false when there is no cached entry.
func GetSubscriptionSnapshot(userID uint, dest interface{}) (bool, error) {
	data, err := Get(subscriptionKey(userID))
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, err
	}
	return true, nil
}

// InvalidateSubscription drops the cached view for a user. Called after any
// local write to the subscription row so reads never serve a stale status.
func InvalidateSubscription(userID uint) {
	_ = Delete(subscriptionKey(userID))
}
