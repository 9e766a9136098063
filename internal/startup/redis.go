package startup

import (
	"context"
	"os"
	"time"

	feedredis "github.com/xgaming627/chatter-nexus/internal/feed/redis"
	"github.com/xgaming627/chatter-nexus/internal/logger"
)

// ConnectFeedWithRetry connects the Redis change-feed broker with retries.
func ConnectFeedWithRetry(redisURL string, maxWait time.Duration, logPrefix string) *feedredis.Broker {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		broker, err := feedredis.New(ctx, redisURL)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return broker
	}
}
