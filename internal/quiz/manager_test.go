package quiz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, size int) (*Manager, *fakeClock) {
	t.Helper()
	m, err := NewManager(size, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	clock := &fakeClock{now: t0}
	m.now = clock.Now
	return m, clock
}

func TestManagerFlowFiresCompletionOnce(t *testing.T) {
	m, clock := newTestManager(t, 8)
	ctx := context.Background()

	var completions []Completion
	m.OnComplete(func(_ context.Context, c Completion) error {
		completions = append(completions, c)
		return nil
	})

	v, err := m.Create(7, 1, "Basic Alphabet", DefaultConfig(), testQuestions(3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.State != StateIntro || v.QuestionCount != 3 || v.XPReward != 50 {
		t.Fatalf("intro view = %+v", v)
	}
	if len(v.Achievements) != 3 {
		t.Errorf("intro achievements = %d, want 3", len(v.Achievements))
	}

	if v, err = m.Start(ctx, 7, v.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if v.RemainingSeconds != 30 {
		t.Errorf("remaining = %d, want 30", v.RemainingSeconds)
	}
	if v.Question == nil || v.Question.CorrectOption() != 0 {
		t.Error("running question should hide the answer")
	}

	for i := 0; i < 3; i++ {
		clock.Add(time.Second)
		v, err = m.Answer(ctx, 7, v.ID, 2)
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		if v.LastAnswer == nil || !v.LastAnswer.Correct {
			t.Errorf("answer %d: last answer = %+v, want correct", i, v.LastAnswer)
		}
		clock.Add(2 * time.Second)
		if v, err = m.Get(ctx, 7, v.ID); err != nil {
			t.Fatalf("get: %v", err)
		}
	}

	if v.State != StateResults || v.Result == nil {
		t.Fatalf("view = %+v, want results", v)
	}
	if v.Result.XPEarned != 50 {
		t.Errorf("xp = %d, want 50", v.Result.XPEarned)
	}
	if len(completions) != 1 {
		t.Fatalf("completions = %d, want 1", len(completions))
	}
	c := completions[0]
	if c.UserID != 7 || c.LessonID != 1 || c.Title != "Basic Alphabet" || c.Result.Correct != 3 {
		t.Errorf("completion = %+v", c)
	}

	// Further reads, sweeps and a retry that finishes again do not re-fire.
	m.Get(ctx, 7, v.ID)
	m.Sweep(ctx)
	if _, err := m.Retry(ctx, 7, v.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	clock.Add(5 * time.Minute)
	m.Sweep(ctx)
	if len(completions) != 1 {
		t.Errorf("completions = %d after retry, want 1", len(completions))
	}
}

func TestManagerOwnership(t *testing.T) {
	m, _ := newTestManager(t, 8)
	v, err := m.Create(7, 1, "Quiz", DefaultConfig(), testQuestions(1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := m.Get(context.Background(), 8, v.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("other user: err = %v, want %v", err, ErrSessionNotFound)
	}
	if _, err := m.Get(context.Background(), 7, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("missing: err = %v, want %v", err, ErrSessionNotFound)
	}
}

func TestManagerWrongState(t *testing.T) {
	m, _ := newTestManager(t, 8)
	v, _ := m.Create(7, 1, "Quiz", DefaultConfig(), testQuestions(1))
	if _, err := m.Answer(context.Background(), 7, v.ID, 2); !errors.Is(err, ErrWrongState) {
		t.Errorf("err = %v, want %v", err, ErrWrongState)
	}
}

func TestManagerSweepPublishesTimeouts(t *testing.T) {
	m, clock := newTestManager(t, 8)
	ctx := context.Background()

	var mu sync.Mutex
	var published []View
	m.OnChange(func(userID int64, v View) {
		mu.Lock()
		defer mu.Unlock()
		if userID != 7 {
			t.Errorf("published to user %d, want 7", userID)
		}
		published = append(published, v)
	})

	v, _ := m.Create(7, 1, "Quiz", DefaultConfig(), testQuestions(2))
	if _, err := m.Start(ctx, 7, v.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.Sweep(ctx)
	if len(published) != 0 {
		t.Fatalf("published %d views before any timeout", len(published))
	}

	clock.Add(30 * time.Second)
	m.Sweep(ctx)
	if len(published) != 1 {
		t.Fatalf("published = %d, want 1", len(published))
	}
	got := published[0]
	if got.State != StateAnswered || got.LastAnswer == nil || !got.LastAnswer.TimedOut {
		t.Errorf("published view = %+v, want timed out answer", got)
	}
	if got.LastAnswer.CorrectOption != 2 {
		t.Errorf("revealed option = %d, want 2", got.LastAnswer.CorrectOption)
	}
}

func TestManagerExitRemovesSession(t *testing.T) {
	m, clock := newTestManager(t, 8)
	ctx := context.Background()
	v, _ := m.Create(7, 1, "Quiz", DefaultConfig(), testQuestions(5))
	m.Start(ctx, 7, v.ID)
	m.Answer(ctx, 7, v.ID, 1)
	clock.Add(2 * time.Second)

	out, err := m.Exit(ctx, 7, v.ID, false)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if out.ExitOutcome != ExitConfirmRequired {
		t.Fatalf("outcome = %s, want %s", out.ExitOutcome, ExitConfirmRequired)
	}
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1", m.Len())
	}

	out, err = m.Exit(ctx, 7, v.ID, true)
	if err != nil {
		t.Fatalf("confirmed exit: %v", err)
	}
	if out.ExitOutcome != ExitDone || out.State != StateAbandoned {
		t.Errorf("view = %+v, want abandoned", out)
	}
	if m.Len() != 0 {
		t.Errorf("len = %d, want 0", m.Len())
	}
}

func TestManagerBoundedAndIdleEviction(t *testing.T) {
	m, clock := newTestManager(t, 2)
	first, _ := m.Create(1, 1, "Quiz", DefaultConfig(), testQuestions(1))
	m.Create(2, 1, "Quiz", DefaultConfig(), testQuestions(1))
	m.Create(3, 1, "Quiz", DefaultConfig(), testQuestions(1))

	if m.Len() != 2 {
		t.Fatalf("len = %d, want 2", m.Len())
	}
	if _, err := m.Get(context.Background(), 1, first.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("oldest session should be evicted, err = %v", err)
	}

	clock.Add(2 * time.Hour)
	m.Sweep(context.Background())
	if m.Len() != 0 {
		t.Errorf("len = %d after idle sweep, want 0", m.Len())
	}
}

func TestManagerRunStop(t *testing.T) {
	m, clock := newTestManager(t, 8)
	ctx := context.Background()

	changed := make(chan View, 4)
	m.OnChange(func(_ int64, v View) { changed <- v })

	v, _ := m.Create(7, 1, "Quiz", DefaultConfig(), testQuestions(1))
	m.Start(ctx, 7, v.ID)
	clock.Add(31 * time.Second)

	m.Run(ctx)
	select {
	case got := <-changed:
		if got.State != StateAnswered {
			t.Errorf("state = %s, want %s", got.State, StateAnswered)
		}
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not publish")
	}
	m.Stop()
}

// answerAll answers n questions correctly, one second into each countdown,
// moving to the next question after the feedback delay except for the last.
func answerAll(t *testing.T, m *Manager, clock *fakeClock, id string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		clock.Add(time.Second)
		if _, err := m.Answer(ctx, 7, id, 2); err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		if i < n-1 {
			clock.Add(2 * time.Second)
			if _, err := m.Get(ctx, 7, id); err != nil {
				t.Fatalf("get %d: %v", i, err)
			}
		}
	}
}

func TestManagerSettlesWhenRejectedAnswerReachesResults(t *testing.T) {
	m, clock := newTestManager(t, 8)
	ctx := context.Background()

	var completions []Completion
	m.OnComplete(func(_ context.Context, c Completion) error {
		completions = append(completions, c)
		return nil
	})

	v, _ := m.Create(7, 1, "Quiz", DefaultConfig(), testQuestions(4))
	if _, err := m.Start(ctx, 7, v.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	answerAll(t, m, clock, v.ID, 3)

	// Move to the last question and let it time out past the reveal delay.
	clock.Add(2 * time.Second)
	m.Get(ctx, 7, v.ID)
	clock.Add(33 * time.Second)

	if _, err := m.Answer(ctx, 7, v.ID, 2); !errors.Is(err, ErrWrongState) {
		t.Fatalf("late answer: err = %v, want %v", err, ErrWrongState)
	}
	if len(completions) != 1 {
		t.Fatalf("completions = %d after late answer, want 1", len(completions))
	}
	if r := completions[0].Result; r.Correct != 3 || r.Total != 4 || r.XPEarned != 38 {
		t.Errorf("result = %+v, want 3/4 correct and 38 xp", r)
	}

	m.Sweep(ctx)
	out, err := m.Exit(ctx, 7, v.ID, false)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if out.ExitOutcome != ExitDone {
		t.Errorf("outcome = %s, want %s", out.ExitOutcome, ExitDone)
	}
	if len(completions) != 1 {
		t.Errorf("completions = %d after exit, want 1", len(completions))
	}
	if m.Len() != 0 {
		t.Errorf("len = %d, want 0", m.Len())
	}
}

func TestManagerSettlesWhenRetrySkipsResults(t *testing.T) {
	m, clock := newTestManager(t, 8)
	ctx := context.Background()

	var completions []Completion
	m.OnComplete(func(_ context.Context, c Completion) error {
		completions = append(completions, c)
		return nil
	})

	v, _ := m.Create(7, 1, "Quiz", DefaultConfig(), testQuestions(3))
	m.Start(ctx, 7, v.ID)
	answerAll(t, m, clock, v.ID, 3)

	// Retry once the feedback delay is over, with no read or sweep between.
	clock.Add(2 * time.Second)
	out, err := m.Retry(ctx, 7, v.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.State != StateQuestion || out.QuestionIndex != 0 {
		t.Errorf("view = %+v, want first question", out)
	}
	if len(completions) != 1 {
		t.Fatalf("completions = %d, want 1", len(completions))
	}
	if completions[0].Result.XPEarned != 50 {
		t.Errorf("xp = %d, want 50", completions[0].Result.XPEarned)
	}
}

func TestManagerRetriesFailedCompletion(t *testing.T) {
	m, clock := newTestManager(t, 8)

	calls := 0
	fail := true
	m.OnComplete(func(ctx context.Context, c Completion) error {
		calls++
		if ctx.Err() != nil {
			t.Errorf("completion ctx err = %v, want nil", ctx.Err())
		}
		if fail {
			return errors.New("database is locked")
		}
		return nil
	})

	v, _ := m.Create(7, 1, "Quiz", DefaultConfig(), testQuestions(1))
	m.Start(context.Background(), 7, v.ID)
	answerAll(t, m, clock, v.ID, 1)
	clock.Add(2 * time.Second)

	// The client has gone away by the time results are reached.
	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Get(reqCtx, 7, v.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	// Exiting keeps the session while its completion is unrecorded.
	if _, err := m.Exit(context.Background(), 7, v.ID, true); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d after exit, want 2", calls)
	}
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1 while completion is pending", m.Len())
	}

	fail = false
	m.Sweep(context.Background())
	if calls != 3 {
		t.Errorf("calls = %d after sweep, want 3", calls)
	}
	if m.Len() != 0 {
		t.Errorf("len = %d, want 0 once settled", m.Len())
	}

	m.Sweep(context.Background())
	if calls != 3 {
		t.Errorf("calls = %d, completion fired again", calls)
	}
}
