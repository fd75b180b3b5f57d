package database

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

// DefaultReadRetries 是读操作在瞬时错误下的默认重试次数。
const DefaultReadRetries uint64 = 3

// Read 以有限次数的指数退避执行只读查询。
// 记录不存在与 context 取消不会重试；写操作不要走这里。
func Read(ctx context.Context, retries uint64, fn func() error) error {
	if retries == 0 {
		return fn()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = 5 * time.Second

	op := func() error {
		err := fn()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
}
