package api

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
)

// Request — логический запрос к backend API.
//
// Создаётся на каждый вызов и живёт до расчёта (успех или ошибка).
// UI и бизнес-модули описывают только метод, путь, тело и признак
// авторизации — очередь, повторы и обновление токена им не видны.
type Request struct {
	Method       string
	Path         string
	Params       url.Values
	Body         interface{} // Сериализуется в JSON; nil = без тела
	RequiresAuth bool

	// ID — корреляционный идентификатор для логов.
	ID string

	// Состояние мутируют две стороны: горутина вызывающего (постановка,
	// расчёт) и горутина планировщика (хуки отправки/повтора), поэтому
	// дисциплины одного писателя недостаточно — нужен мьютекс.
	mu    sync.Mutex
	state State

	// Каждый класс сбоя (401, 429) даёт право ровно на один повтор —
	// иначе сломанный backend превращает запрос в вечный цикл.
	authRetried bool
	rateRetried bool
}

// NewRequest создаёт запрос в начальном состоянии.
func NewRequest(method, path string, opts ...RequestOption) *Request {
	r := &Request{
		Method: method,
		Path:   path,
		ID:     uuid.NewString(),
		state:  StateCreated,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequestOption настраивает Request.
type RequestOption func(*Request)

// WithParams задаёт query параметры.
func WithParams(params url.Values) RequestOption {
	return func(r *Request) { r.Params = params }
}

// WithBody задаёт тело запроса (будет сериализовано в JSON).
func WithBody(body interface{}) RequestOption {
	return func(r *Request) { r.Body = body }
}

// WithAuth помечает запрос как требующий Authorization заголовок.
func WithAuth() RequestOption {
	return func(r *Request) { r.RequiresAuth = true }
}

// State возвращает текущее состояние жизненного цикла.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Response — разобранный ответ backend'а.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// State — состояние жизненного цикла запроса.
//
// Жизненный цикл: CREATED → QUEUED → IN_FLIGHT →
// {SETTLED | RETRY_AUTH → QUEUED | RETRY_RATE → QUEUED} → SETTLED.
// SETTLED — терминальное состояние, входится ровно один раз.
type State int

const (
	StateCreated State = iota
	StateQueued
	StateInFlight
	StateRetryAuth
	StateRetryRate
	StateSettled
)

// String возвращает имя состояния.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueued:
		return "queued"
	case StateInFlight:
		return "in_flight"
	case StateRetryAuth:
		return "retry_auth"
	case StateRetryRate:
		return "retry_rate"
	case StateSettled:
		return "settled"
	default:
		return "invalid"
	}
}

// transitions — допустимые переходы жизненного цикла.
var transitions = map[State][]State{
	StateCreated:   {StateQueued},
	StateQueued:    {StateInFlight},
	StateInFlight:  {StateSettled, StateRetryAuth, StateRetryRate},
	StateRetryAuth: {StateQueued, StateSettled},
	StateRetryRate: {StateQueued, StateSettled},
	StateSettled:   {},
}

// Transition переводит запрос в состояние to.
//
// Недопустимый переход — ошибка программирования в диспетчере, поэтому
// возвращается как error и дополнительно ограничивает повторы: второй
// вход в RETRY_AUTH или RETRY_RATE невозможен.
func (r *Request) Transition(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if to == StateRetryAuth && r.authRetried {
		return fmt.Errorf("request %s: auth retry already used", r.ID)
	}
	if to == StateRetryRate && r.rateRetried {
		return fmt.Errorf("request %s: rate retry already used", r.ID)
	}

	for _, allowed := range transitions[r.state] {
		if allowed == to {
			if to == StateRetryAuth {
				r.authRetried = true
			}
			if to == StateRetryRate {
				r.rateRetried = true
			}
			r.state = to
			return nil
		}
	}
	return fmt.Errorf("request %s: invalid transition %s -> %s", r.ID, r.state, to)
}

// AuthRetried сообщает был ли уже использован повтор после 401.
func (r *Request) AuthRetried() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authRetried
}

// RateRetried сообщает был ли уже использован повтор после 429.
func (r *Request) RateRetried() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rateRetried
}
