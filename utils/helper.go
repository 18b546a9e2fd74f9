package utils

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
)

func GenerateUniqueFilename() string {

	timestamp := time.Now().UnixNano()

	random := rand.Intn(1000)

	uniqueFilename := fmt.Sprintf("%d_%d", timestamp, random)

	return uniqueFilename
}

func NewTrue() *bool {
	b := true
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	inResult := make(map[T]bool)
	var result []T
	for _, elm := range slice {
		if _, ok := inResult[elm]; !ok {
			// if not exists in map, append it, otherwise do nothing
			inResult[elm] = true
			result = append(result, elm)
		}
	}
	return result
}

// Duplicates returns every value that appears more than once, in first-seen order.
func Duplicates[T comparable](slice []T) []T {
	counts := make(map[T]int)
	var result []T
	for _, elm := range slice {
		counts[elm]++
		if counts[elm] == 2 {
			result = append(result, elm)
		}
	}
	return result
}

func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// ClampDecimal bounds v to [lo, hi] and reports whether it had to.
func ClampDecimal(v, lo, hi decimal.Decimal) (decimal.Decimal, bool) {
	if v.LessThan(lo) {
		return lo, true
	}
	if v.GreaterThan(hi) {
		return hi, true
	}
	return v, false
}

// ThreadTypeLock takes the cross-instance reservation lock for a thread type.
// The returned release func is always safe to call. Redis being unavailable or the lock being
// held elsewhere is logged and the caller proceeds, since row locks in the store are the real guard.
func ThreadTypeLock(ctx context.Context, threadTypeId int, moduleName string, functionName string) func() {
	noop := func() {}
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		return noop
	}

	lockKey := fmt.Sprintf("thread_type_reservation:%d", threadTypeId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if err == redislock.ErrNotObtained {
		config.LogWarning(logger, moduleName, functionName, "could not obtain thread type lock, continuing on row locks", threadTypeId)
		return noop
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "error obtaining thread type lock", threadTypeId, err)
		return noop
	}
	return func() {
		// release with a fresh context so a cancelled request still frees the key
		_ = lock.Release(context.Background())
	}
}
