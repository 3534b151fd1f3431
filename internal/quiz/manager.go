package quiz

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

const idleTimeout = time.Hour

var ErrSessionNotFound = errors.New("quiz: session not found")

// Completion describes a session that reached its results.
type Completion struct {
	SessionID string
	UserID    int64
	LessonID  int
	Title     string
	Result    Result
}

// View is the client-facing snapshot of a session.
type View struct {
	ID               string        `json:"id"`
	LessonID         int           `json:"lessonId"`
	Title            string        `json:"title"`
	State            State         `json:"state"`
	QuestionIndex    int           `json:"questionIndex"`
	QuestionCount    int           `json:"questionCount"`
	Question         *Question     `json:"question,omitempty"`
	RemainingSeconds int           `json:"remainingSeconds"`
	Correct          int           `json:"correct"`
	Score            float64       `json:"score"`
	XPReward         int           `json:"xpReward"`
	LastAnswer       *Answer       `json:"lastAnswer,omitempty"`
	Result           *Result       `json:"result,omitempty"`
	ExitOutcome      ExitOutcome   `json:"exitOutcome,omitempty"`
	Achievements     []Achievement `json:"achievements,omitempty"`
}

type entry struct {
	mu        sync.Mutex
	id        string
	userID    int64
	lessonID  int
	title     string
	session   *Session
	rewarded  bool
	touchedAt time.Time
}

// Manager owns the live quiz sessions. Sessions are kept in a bounded LRU
// cache and advanced by a periodic sweep so countdowns expire even when the
// client is silent.
type Manager struct {
	cache    *lru.Cache
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	onComplete func(ctx context.Context, c Completion) error
	onChange   func(userID int64, v View)

	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(size int, interval time.Duration, logger *slog.Logger) (*Manager, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cache:    cache,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// OnComplete sets the hook run once per session when it first reaches
// results.
func (m *Manager) OnComplete(fn func(ctx context.Context, c Completion) error) {
	m.onComplete = fn
}

// OnChange sets the hook run after the sweep changes a session.
func (m *Manager) OnChange(fn func(userID int64, v View)) {
	m.onChange = fn
}

func (m *Manager) Len() int {
	return m.cache.Len()
}

// Create builds a session for userID and returns its intro view.
func (m *Manager) Create(userID int64, lessonID int, title string, cfg Config, questions []Question) (View, error) {
	s, err := NewSession(cfg, questions)
	if err != nil {
		return View{}, err
	}
	e := &entry{
		id:        uuid.NewString(),
		userID:    userID,
		lessonID:  lessonID,
		title:     title,
		session:   s,
		touchedAt: m.now(),
	}
	m.cache.Add(e.id, e)
	return e.view(m.now()), nil
}

func (m *Manager) lookup(userID int64, id string) (*entry, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e := v.(*entry)
	if e.userID != userID {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// do runs fn on the session under its lock, then settles any completion.
// fn may reach results before failing, so settling does not depend on its
// error.
func (m *Manager) do(ctx context.Context, userID int64, id string, fn func(s *Session, now time.Time) error) (View, error) {
	e, err := m.lookup(userID, id)
	if err != nil {
		return View{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.now()
	e.touchedAt = now
	err = fn(e.session, now)
	m.settle(ctx, e)
	if err != nil {
		return View{}, err
	}
	return e.view(now), nil
}

func (m *Manager) Get(ctx context.Context, userID int64, id string) (View, error) {
	return m.do(ctx, userID, id, func(s *Session, now time.Time) error {
		s.Advance(now)
		return nil
	})
}

func (m *Manager) Start(ctx context.Context, userID int64, id string) (View, error) {
	return m.do(ctx, userID, id, func(s *Session, now time.Time) error {
		return s.Start(now)
	})
}

func (m *Manager) Answer(ctx context.Context, userID int64, id string, optionID int) (View, error) {
	return m.do(ctx, userID, id, func(s *Session, now time.Time) error {
		_, err := s.Answer(optionID, now)
		return err
	})
}

func (m *Manager) Retry(ctx context.Context, userID int64, id string) (View, error) {
	return m.do(ctx, userID, id, func(s *Session, now time.Time) error {
		s.Advance(now)
		return s.Retry(now)
	})
}

// Exit leaves the session. An exited session is dropped from the cache.
func (m *Manager) Exit(ctx context.Context, userID int64, id string, confirm bool) (View, error) {
	var outcome ExitOutcome
	v, err := m.do(ctx, userID, id, func(s *Session, now time.Time) error {
		var err error
		outcome, err = s.Exit(confirm, now)
		return err
	})
	if err != nil {
		return View{}, err
	}
	v.ExitOutcome = outcome
	if outcome == ExitDone {
		m.removeSettled(id)
	}
	return v, nil
}

// removeSettled drops an exited session unless its completion is still
// pending, in which case the sweep keeps retrying and drops it afterwards.
func (m *Manager) removeSettled(id string) {
	v, ok := m.cache.Peek(id)
	if !ok {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	pending := e.pending()
	e.mu.Unlock()
	if !pending {
		m.cache.Remove(id)
	}
}

// pending reports whether the session finished an attempt whose
// completion has not been recorded yet. Callers hold e.mu.
func (e *entry) pending() bool {
	if e.rewarded {
		return false
	}
	_, ok := e.session.FirstResult()
	return ok
}

// settle fires the completion hook for the first attempt that reached
// results. A failed hook leaves the completion pending for the next sweep.
// The hook runs detached from ctx cancellation so a dropped client cannot
// abort the write.
func (m *Manager) settle(ctx context.Context, e *entry) {
	if !e.pending() {
		return
	}
	r, _ := e.session.FirstResult()
	if m.onComplete != nil {
		c := Completion{SessionID: e.id, UserID: e.userID, LessonID: e.lessonID, Title: e.title, Result: r}
		if err := m.onComplete(context.WithoutCancel(ctx), c); err != nil {
			m.logger.Error("quiz completion", "session", e.id, "user_id", e.userID, "error", err)
			return
		}
	}
	e.rewarded = true
}

// Sweep advances every live session to now, publishing the ones that
// changed, retries pending completions, and evicts sessions idle for
// longer than an hour or exited and settled.
func (m *Manager) Sweep(ctx context.Context) {
	now := m.now()
	for _, k := range m.cache.Keys() {
		v, ok := m.cache.Peek(k)
		if !ok {
			continue
		}
		e := v.(*entry)

		e.mu.Lock()
		changed := e.session.Advance(now)
		m.settle(ctx, e)
		if now.Sub(e.touchedAt) > idleTimeout ||
			(e.session.State() == StateAbandoned && !e.pending()) {
			if e.pending() {
				m.logger.Warn("dropping quiz with unrecorded completion", "session", e.id, "user_id", e.userID)
			}
			e.mu.Unlock()
			m.cache.Remove(k)
			continue
		}
		view := e.view(now)
		e.mu.Unlock()

		if changed && m.onChange != nil {
			m.onChange(e.userID, view)
		}
	}
}

// Run starts the sweep loop.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to return.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (e *entry) view(now time.Time) View {
	s := e.session
	v := View{
		ID:               e.id,
		LessonID:         e.lessonID,
		Title:            e.title,
		State:            s.State(),
		QuestionIndex:    s.CurrentQuestion(),
		QuestionCount:    s.QuestionCount(),
		RemainingSeconds: int(math.Ceil(s.Remaining(now).Seconds())),
		Correct:          s.CorrectCount(),
		Score:            s.Score(),
		XPReward:         s.Config().XPReward,
	}
	if s.State() == StateIntro {
		v.Achievements = s.Config().Achievements
	}
	if q, ok := s.Question(); ok {
		v.Question = &q
	}
	if s.State() == StateAnswered {
		if a, ok := s.LastAnswer(); ok {
			v.LastAnswer = &a
		}
	}
	if r, ok := s.Result(); ok {
		v.Result = &r
	}
	return v
}
