package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// QueueConfig — параметры очереди запросов.
type QueueConfig struct {
	MaxConcurrent        int           // Макс. одновременных запросов (дефолт 5)
	MinInterval          time.Duration // Мин. интервал между отправками (дефолт 100ms)
	MaxRequestsPerWindow int           // Бюджет допуска в очередь за окно (0 = выключено)
	Window               time.Duration // Длина окна бюджета (дефолт 60s)
	DefaultRetryAfter    time.Duration // Пауза при 429 без Retry-After (дефолт 1s)
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 100 * time.Millisecond
	}
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = time.Second
	}
	return c
}

// queueItem — единица работы в FIFO.
type queueItem struct {
	fn   func() error
	done chan error

	// Один повтор после 429 на запрос; второй 429 рассчитывает запрос
	// с ошибкой, а не крутит его по кругу.
	rateRetried bool

	onDispatch  func() // Вызывается при каждом уходе в сеть
	onRateRetry func() // Вызывается при повторной постановке после 429
}

// Queue — ограниченная FIFO очередь запросов.
//
// Все физические запросы процесса уходят в сеть через одну очередь.
// Планировщик отправляет пока activeCount < MaxConcurrent и с момента
// последней отправки прошло >= MinInterval. 429 от backend'а — сигнал
// глобальный: очередь целиком замирает на Retry-After, потому что лимит
// превышен клиентом, а не отдельным вызовом.
//
// Дополнительно до постановки в очередь проверяется локальный бюджет
// запросов на скользящее окно — упреждающая защита сервера, независимая
// от реактивной паузы по 429.
type Queue struct {
	cfg       QueueConfig
	admission *rate.Limiter // nil если бюджет выключен

	mu           sync.Mutex
	pending      []*queueItem
	active       int
	lastDispatch time.Time
	pausedUntil  time.Time
	closed       bool

	notify    chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	log zerolog.Logger
}

// NewQueue создаёт очередь и запускает планировщик.
func NewQueue(cfg QueueConfig, log zerolog.Logger) *Queue {
	cfg = cfg.withDefaults()

	q := &Queue{
		cfg:     cfg,
		notify:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		log:     log,
	}

	if cfg.MaxRequestsPerWindow > 0 {
		// Бюджет на окно через token bucket: пополнение размазано по окну,
		// burst = полный бюджет
		perSec := float64(cfg.MaxRequestsPerWindow) / cfg.Window.Seconds()
		q.admission = rate.NewLimiter(rate.Limit(perSec), cfg.MaxRequestsPerWindow)
	}

	go q.run()
	return q
}

// EnqueueOption настраивает постановку в очередь.
type EnqueueOption func(*queueItem)

// OnDispatch задаёт hook, вызываемый перед каждым уходом элемента в сеть.
func OnDispatch(fn func()) EnqueueOption {
	return func(it *queueItem) { it.onDispatch = fn }
}

// OnRateRetry задаёт hook, вызываемый при повторной постановке после 429.
func OnRateRetry(fn func()) EnqueueOption {
	return func(it *queueItem) { it.onRateRetry = fn }
}

// Enqueue ставит thunk в очередь и блокируется до его расчёта.
//
// Если бюджет окна исчерпан, блокируется уже сам допуск в очередь — до
// сброса окна. Отмена контекста после допуска не снимает элемент с
// исполнения: вызывающий просто перестаёт ждать результат.
func (q *Queue) Enqueue(ctx context.Context, fn func() error, opts ...EnqueueOption) error {
	if q.admission != nil {
		if err := q.admission.Wait(ctx); err != nil {
			return fmt.Errorf("admission budget wait: %w", err)
		}
	}

	it := &queueItem{fn: fn, done: make(chan error, 1)}
	for _, opt := range opts {
		opt(it)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, it)
	q.mu.Unlock()
	q.signal()

	select {
	case err := <-it.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close останавливает планировщик и рассчитывает ожидающие элементы
// с ErrQueueClosed. Уже отправленные запросы дорабатывают.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		pending := q.pending
		q.pending = nil
		q.mu.Unlock()

		close(q.closeCh)
		for _, it := range pending {
			it.done <- ErrQueueClosed
		}
	})
}

// Active возвращает число запросов в полёте.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Len возвращает длину очереди ожидания.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// run — единственная горутина-планировщик. Всё состояние очереди
// мутируется под q.mu, но решения об отправке принимает только она.
func (q *Queue) run() {
	for {
		select {
		case <-q.closeCh:
			return
		case <-q.notify:
		}
		q.dispatchReady()
	}
}

// dispatchReady отправляет элементы пока позволяют слоты, интервал и пауза.
func (q *Queue) dispatchReady() {
	for {
		q.mu.Lock()
		if q.closed || len(q.pending) == 0 || q.active >= q.cfg.MaxConcurrent {
			q.mu.Unlock()
			return
		}

		now := time.Now()
		var wait time.Duration
		// Пауза после 429 имеет приоритет: внутри окна паузы не уходит ничего
		if d := q.pausedUntil.Sub(now); d > wait {
			wait = d
		}
		if !q.lastDispatch.IsZero() {
			if d := q.cfg.MinInterval - now.Sub(q.lastDispatch); d > wait {
				wait = d
			}
		}
		if wait > 0 {
			q.mu.Unlock()
			select {
			case <-q.closeCh:
				return
			case <-time.After(wait):
			}
			continue
		}

		it := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		q.lastDispatch = now
		q.mu.Unlock()

		if it.onDispatch != nil {
			it.onDispatch()
		}
		go q.execute(it)
	}
}

// execute выполняет thunk и обрабатывает его исход.
//
// 429 ставит на паузу всю очередь и один раз возвращает элемент в хвост
// FIFO (не в голову — чтобы восстановление не морило голодом остальных).
// Любая другая ошибка рассчитывает только свой элемент, очередь живёт дальше.
func (q *Queue) execute(it *queueItem) {
	err := it.fn()

	q.mu.Lock()
	q.active--

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		retryAfter := apiErr.RetryAfter
		if retryAfter <= 0 {
			retryAfter = q.cfg.DefaultRetryAfter
		}
		until := time.Now().Add(retryAfter)
		if until.After(q.pausedUntil) {
			q.pausedUntil = until
		}
		q.log.Warn().
			Dur("retry_after", retryAfter).
			Msg("429 from backend, pausing queue")

		if !it.rateRetried && !q.closed {
			it.rateRetried = true
			q.mu.Unlock()

			// Hook до возврата в FIFO: элемент не должен быть виден
			// планировщику раньше, чем жизненный цикл заявки обновлён
			if it.onRateRetry != nil {
				it.onRateRetry()
			}

			q.mu.Lock()
			if q.closed {
				q.mu.Unlock()
				it.done <- ErrQueueClosed
				return
			}
			q.pending = append(q.pending, it)
			q.mu.Unlock()
			q.signal()
			return
		}
		err = fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Error())
	}
	q.mu.Unlock()

	it.done <- err
	q.signal()
}
