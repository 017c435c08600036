package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// retryAttempts/retryBackoff bound the Mongo proxy's transparent retry of
// NotMaster/ServerSelectionTimeout failures (§6.2): same contract, same
// return value, just absorbed instead of surfaced on a transient blip.
const (
	retryAttempts = 3
	retryBackoff  = 200 * time.Millisecond
)

func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt+1)):
		}
	}
	return err
}

func isTransient(err error) bool {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	if cmdErr, ok := err.(mongo.CommandError); ok {
		return cmdErr.HasErrorLabel("RetryableWriteError") || cmdErr.Name == "NotMaster"
	}
	return false
}
