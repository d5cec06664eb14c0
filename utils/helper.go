package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/cedarledger/statements_backend/config"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
)

// ConvertToDecimal parses an amount string into a decimal, rejecting empty input.
func ConvertToDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}

	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}

	return dec, nil
}

// ObtainAccountLock takes a cross-instance redis lock for one bank account.
// The caller must Release the returned lock; redis being down is not fatal
// because persistence also serializes via MySQL advisory locks.
func ObtainAccountLock(ctx context.Context, lockKey string, ttl time.Duration) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	lock, err := locker.Obtain(ctx, lockKey, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(200*time.Millisecond), 25),
	})
	if err == redislock.ErrNotObtained {
		return nil, fmt.Errorf("could not obtain lock %q", lockKey)
	} else if err != nil {
		return nil, err
	}
	return lock, nil
}
