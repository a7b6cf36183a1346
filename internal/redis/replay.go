package redis

import (
	"context"
	"fmt"
	"time"
)

func replayKey(digest string) string {
	return "jornet:replay:" + digest
}

// SeenSubmission marks a submission digest as seen and reports whether it
// already was. The mark expires after ttl.
func (c *Cache) SeenSubmission(ctx context.Context, digest string, ttl time.Duration) (bool, error) {
	set, err := c.client.SetNX(ctx, replayKey(digest), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("marking submission: %w", err)
	}
	return !set, nil
}

// ForgetSubmission removes a digest so the submission can be retried
func (c *Cache) ForgetSubmission(ctx context.Context, digest string) error {
	if err := c.client.Del(ctx, replayKey(digest)).Err(); err != nil {
		return fmt.Errorf("forgetting submission: %w", err)
	}
	return nil
}
