package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(cfg QueueConfig) *Queue {
	return NewQueue(cfg, zerolog.Nop())
}

// TestQueue_ConcurrencyBound проверяет что в полёте никогда не бывает
// больше MaxConcurrent запросов.
func TestQueue_ConcurrencyBound(t *testing.T) {
	q := newTestQueue(QueueConfig{MaxConcurrent: 3, MinInterval: time.Millisecond})
	defer q.Close()

	var current, peak int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Enqueue(context.Background(), func() error {
				n := atomic.AddInt64(&current, 1)
				// Фиксируем максимум наблюдавшейся конкурентности
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3),
		"in-flight requests must never exceed MaxConcurrent")
}

// TestQueue_MinInterval проверяет зазор между последовательными отправками.
func TestQueue_MinInterval(t *testing.T) {
	const interval = 25 * time.Millisecond

	q := newTestQueue(QueueConfig{MaxConcurrent: 5, MinInterval: interval})
	defer q.Close()

	// Времена отправки собирает OnDispatch — он вызывается из единственной
	// горутины планировщика, строго в порядке отправки
	var dispatches []time.Time
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Enqueue(context.Background(), func() error { return nil },
				OnDispatch(func() {
					dispatches = append(dispatches, time.Now())
				}))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, dispatches, 4)
	for i := 1; i < len(dispatches); i++ {
		gap := dispatches[i].Sub(dispatches[i-1])
		// Небольшой допуск на точность таймеров
		assert.GreaterOrEqual(t, gap, interval-2*time.Millisecond,
			"gap between dispatches %d and %d too small: %s", i-1, i, gap)
	}
}

// TestQueue_RateLimitPause: 429 ставит на паузу всю очередь и возвращает
// элемент в хвост один раз.
func TestQueue_RateLimitPause(t *testing.T) {
	const retryAfter = 100 * time.Millisecond

	q := newTestQueue(QueueConfig{MaxConcurrent: 1, MinInterval: time.Millisecond})
	defer q.Close()

	var calls int32
	var dispatches []time.Time
	retried := false

	err := q.Enqueue(context.Background(), func() error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfter}
		}
		return nil
	},
		OnDispatch(func() { dispatches = append(dispatches, time.Now()) }),
		OnRateRetry(func() { retried = true }),
	)

	require.NoError(t, err, "request must succeed after one rate retry")
	assert.True(t, retried)
	require.Len(t, dispatches, 2)
	assert.GreaterOrEqual(t, dispatches[1].Sub(dispatches[0]), retryAfter-2*time.Millisecond,
		"queue must wait out Retry-After before redispatching")
}

// TestQueue_PauseIsQueueWide: пауза по 429 задерживает и другие элементы,
// стоящие за провинившимся.
func TestQueue_PauseIsQueueWide(t *testing.T) {
	const retryAfter = 80 * time.Millisecond

	q := newTestQueue(QueueConfig{MaxConcurrent: 1, MinInterval: time.Millisecond})
	defer q.Close()

	start := time.Now()
	var wg sync.WaitGroup
	var secondDispatched time.Time

	wg.Add(1)
	go func() {
		defer wg.Done()
		first := true
		_ = q.Enqueue(context.Background(), func() error {
			if first {
				first = false
				return &APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfter}
			}
			return nil
		})
	}()

	// Даём первому элементу уйти и словить 429
	time.Sleep(20 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Enqueue(context.Background(), func() error { return nil },
			OnDispatch(func() { secondDispatched = time.Now() }))
	}()
	wg.Wait()

	assert.GreaterOrEqual(t, secondDispatched.Sub(start), retryAfter,
		"element queued behind a 429 must also wait out the pause")
}

// TestQueue_RateRetryExhausted: второй 429 подряд рассчитывает элемент
// с ошибкой, а не крутит его бесконечно.
func TestQueue_RateRetryExhausted(t *testing.T) {
	q := newTestQueue(QueueConfig{
		MaxConcurrent:     1,
		MinInterval:       time.Millisecond,
		DefaultRetryAfter: 10 * time.Millisecond,
	})
	defer q.Close()

	var calls int32
	err := q.Enqueue(context.Background(), func() error {
		atomic.AddInt32(&calls, 1)
		return &APIError{StatusCode: http.StatusTooManyRequests}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls),
		"exactly one retry per request, then hard failure")
}

// TestQueue_OtherErrorsDoNotStopQueue: обычная ошибка рассчитывает только
// свой элемент.
func TestQueue_OtherErrorsDoNotStopQueue(t *testing.T) {
	q := newTestQueue(QueueConfig{MaxConcurrent: 1, MinInterval: time.Millisecond})
	defer q.Close()

	boom := errors.New("boom")

	err := q.Enqueue(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)

	err = q.Enqueue(context.Background(), func() error { return nil })
	assert.NoError(t, err, "queue must keep processing after a failed item")
}

// TestQueue_AdmissionBudget: исчерпанный бюджет окна задерживает сам допуск
// в очередь.
func TestQueue_AdmissionBudget(t *testing.T) {
	q := newTestQueue(QueueConfig{
		MaxConcurrent:        5,
		MinInterval:          time.Millisecond,
		MaxRequestsPerWindow: 2,
		Window:               400 * time.Millisecond,
	})
	defer q.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		err := q.Enqueue(context.Background(), func() error { return nil })
		require.NoError(t, err)
	}

	// Первые два проходят по burst'у, третий ждёт пополнения бюджета
	// (~окно/бюджет = 200ms)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond,
		"third admission must wait for the window budget")
}

// TestQueue_Closed: постановка в закрытую очередь.
func TestQueue_Closed(t *testing.T) {
	q := newTestQueue(QueueConfig{})
	q.Close()

	err := q.Enqueue(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

// TestQueue_FIFO: элементы отправляются в порядке допуска.
func TestQueue_FIFO(t *testing.T) {
	q := newTestQueue(QueueConfig{MaxConcurrent: 1, MinInterval: time.Millisecond})
	defer q.Close()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Детерминируем порядок допуска
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 5)
	for i, v := range order {
		assert.Equal(t, i, v, fmt.Sprintf("dispatch order broken at position %d", i))
	}
}
