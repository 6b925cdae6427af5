package retry

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/streamcache/pkg/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetryer_Success(t *testing.T) {
	attempts := 0
	err := New(fastConfig(3)).Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryer_RetryableError(t *testing.T) {
	attempts := 0
	var retried []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}

	err := New(cfg).Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeSourceOpen, "throttled")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryer_NonRetryableError(t *testing.T) {
	attempts := 0
	notFound := errors.NewError(errors.ErrCodeSourceOpen, "object not found")
	notFound.Retryable = false

	err := New(fastConfig(5)).Do(context.Background(), func(context.Context) error {
		attempts++
		return notFound
	})

	assert.Same(t, notFound, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryer_PlainErrorIsNotRetried(t *testing.T) {
	attempts := 0
	plain := stderr.New("boom")

	err := New(fastConfig(5)).Do(context.Background(), func(context.Context) error {
		attempts++
		return plain
	})

	assert.Equal(t, plain, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryer_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := New(fastConfig(4)).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeSourceOpen, "unavailable")
	})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSourceOpen))
	assert.Equal(t, 4, attempts)
}

func TestRetryer_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(10)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	attempts := 0
	err := New(cfg).Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.NewError(errors.ErrCodeSourceOpen, "unavailable")
	})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOperationCanceled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestNew_AppliesDefaults(t *testing.T) {
	cfg := New(Config{}).Config()
	def := DefaultConfig()

	assert.Equal(t, def.MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, def.InitialDelay, cfg.InitialDelay)
	assert.Equal(t, def.MaxDelay, cfg.MaxDelay)
	assert.Equal(t, def.Multiplier, cfg.Multiplier)
}

func TestDelay(t *testing.T) {
	r := New(Config{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2})

	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 40*time.Millisecond, r.delay(3))
	assert.Equal(t, 50*time.Millisecond, r.delay(4))

	r.config.Jitter = true
	for i := 0; i < 20; i++ {
		d := r.delay(2)
		assert.GreaterOrEqual(t, d, 16*time.Millisecond)
		assert.LessOrEqual(t, d, 24*time.Millisecond)
	}
}
