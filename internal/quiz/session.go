// Package quiz implements timed multiple-choice quiz sessions.
//
// A Session is a single state machine parameterised by Config:
//
//	intro -> question -> answered -> question | results
//
// Timers are not goroutines. Every operation takes the current time and
// Advance applies any countdown expiry or scheduled auto-advance that is
// due, so a session can be driven by requests and by a periodic sweep.
package quiz

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type State string

const (
	StateIntro     State = "intro"
	StateQuestion  State = "question"
	StateAnswered  State = "answered"
	StateResults   State = "results"
	StateAbandoned State = "abandoned"
)

var (
	ErrWrongState    = errors.New("quiz: operation not allowed in current state")
	ErrUnknownOption = errors.New("quiz: unknown option")
)

type Option struct {
	ID       int    `json:"id" yaml:"id"`
	Label    string `json:"label,omitempty" yaml:"label"`
	ImageURL string `json:"imageUrl,omitempty" yaml:"image"`
	Correct  bool   `json:"correct,omitempty" yaml:"correct"`
}

type Question struct {
	Prompt  string   `json:"prompt" yaml:"prompt"`
	Term    string   `json:"term,omitempty" yaml:"term"`
	Options []Option `json:"options" yaml:"options"`
}

// CorrectOption returns the id of the question's correct option.
func (q Question) CorrectOption() int {
	for _, o := range q.Options {
		if o.Correct {
			return o.ID
		}
	}
	return 0
}

// Public returns a copy of q with the correct flags removed.
func (q Question) Public() Question {
	out := q
	out.Options = make([]Option, len(q.Options))
	for i, o := range q.Options {
		o.Correct = false
		out.Options[i] = o
	}
	return out
}

type Achievement struct {
	Icon        string `json:"icon" yaml:"icon"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	MinCorrect  int    `json:"minCorrect" yaml:"minCorrect"`
}

// DefaultAchievements are unlocked by completing a quiz, by three correct
// answers and by four correct answers.
var DefaultAchievements = []Achievement{
	{Icon: "🏆", Title: "Sign Language Beginner", Description: "Complete your first sign language quiz", MinCorrect: 0},
	{Icon: "🔥", Title: "On a Roll", Description: "Answer 3 questions correctly in a row", MinCorrect: 3},
	{Icon: "⚡", Title: "Speed Learner", Description: "Complete the quiz in under 2 minutes", MinCorrect: 4},
}

type Config struct {
	PerQuestion   time.Duration
	FeedbackDelay time.Duration
	TimeoutDelay  time.Duration
	XPReward      int
	// ExitThreshold is the number of correct answers below which leaving a
	// started quiz needs confirmation.
	ExitThreshold int
	Achievements  []Achievement
}

func DefaultConfig() Config {
	return Config{
		PerQuestion:   30 * time.Second,
		FeedbackDelay: 2 * time.Second,
		TimeoutDelay:  3 * time.Second,
		XPReward:      50,
		ExitThreshold: 3,
		Achievements:  DefaultAchievements,
	}
}

func (c Config) validate() error {
	if c.PerQuestion <= 0 {
		return fmt.Errorf("quiz: per-question time must be positive")
	}
	if c.FeedbackDelay < 0 || c.TimeoutDelay < 0 {
		return fmt.Errorf("quiz: delays must not be negative")
	}
	if c.XPReward < 0 {
		return fmt.Errorf("quiz: xp reward must not be negative")
	}
	return nil
}

// Answer records what happened on one question.
type Answer struct {
	Question int  `json:"question"`
	OptionID int  `json:"optionId,omitempty"`
	Correct  bool `json:"correct"`
	TimedOut bool `json:"timedOut"`
	// CorrectOption is revealed once the question is answered or expires.
	CorrectOption int `json:"correctOption"`
}

type Result struct {
	Correct      int           `json:"correct"`
	Total        int           `json:"total"`
	Accuracy     int           `json:"accuracy"`
	XPEarned     int           `json:"xpEarned"`
	Achievements []Achievement `json:"achievements"`
}

// ExitOutcome is the answer to an exit request.
type ExitOutcome string

const (
	ExitDone            ExitOutcome = "exited"
	ExitConfirmRequired ExitOutcome = "confirmRequired"
)

type Session struct {
	cfg       Config
	questions []Question

	state     State
	current   int
	correct   int
	score     float64
	answers   []Answer
	deadline  time.Time
	advanceAt time.Time
	result    *Result
	// first is the result of the first attempt to reach results. Retry
	// and Exit leave it in place.
	first *Result
}

// NewSession validates the configuration and questions and returns a
// session in the intro state.
func NewSession(cfg Config, questions []Question) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("quiz: no questions")
	}
	for i, q := range questions {
		if err := validateQuestion(q); err != nil {
			return nil, fmt.Errorf("quiz: question %d: %w", i+1, err)
		}
	}
	return &Session{cfg: cfg, questions: questions, state: StateIntro}, nil
}

func validateQuestion(q Question) error {
	if len(q.Options) < 2 {
		return fmt.Errorf("needs at least two options")
	}
	seen := make(map[int]bool, len(q.Options))
	correct := 0
	for _, o := range q.Options {
		if seen[o.ID] {
			return fmt.Errorf("duplicate option id %d", o.ID)
		}
		seen[o.ID] = true
		if o.Correct {
			correct++
		}
	}
	if correct != 1 {
		return fmt.Errorf("has %d correct options, want 1", correct)
	}
	return nil
}

func (s *Session) State() State { return s.state }
func (s *Session) QuestionCount() int { return len(s.questions) }
func (s *Session) CurrentQuestion() int { return s.current }
func (s *Session) CorrectCount() int { return s.correct }
func (s *Session) Config() Config { return s.cfg }

// Score is the running XP: each correct answer adds XPReward divided by the
// number of questions.
func (s *Session) Score() float64 { return s.score }

// Start leaves the intro and shows the first question.
func (s *Session) Start(now time.Time) error {
	if s.state != StateIntro {
		return ErrWrongState
	}
	s.beginQuestion(0, now)
	return nil
}

func (s *Session) beginQuestion(i int, at time.Time) {
	s.state = StateQuestion
	s.current = i
	s.deadline = at.Add(s.cfg.PerQuestion)
	s.advanceAt = time.Time{}
}

// Answer selects an option for the current question. Due timeouts are
// applied first, so an answer after the countdown ran out is rejected.
func (s *Session) Answer(optionID int, now time.Time) (Answer, error) {
	s.Advance(now)
	if s.state != StateQuestion {
		return Answer{}, ErrWrongState
	}

	q := s.questions[s.current]
	found := false
	for _, o := range q.Options {
		if o.ID == optionID {
			found = true
			break
		}
	}
	if !found {
		return Answer{}, ErrUnknownOption
	}

	a := Answer{
		Question:      s.current,
		OptionID:      optionID,
		CorrectOption: q.CorrectOption(),
	}
	a.Correct = a.OptionID == a.CorrectOption
	if a.Correct {
		s.correct++
		s.score += float64(s.cfg.XPReward) / float64(len(s.questions))
	}
	s.answers = append(s.answers, a)
	s.state = StateAnswered
	s.advanceAt = now.Add(s.cfg.FeedbackDelay)
	return a, nil
}

// Advance applies every countdown expiry and auto-advance due at now and
// reports whether the session changed. Calling it again with the same time
// is a no-op.
func (s *Session) Advance(now time.Time) bool {
	changed := false
	for {
		switch s.state {
		case StateQuestion:
			if now.Before(s.deadline) {
				return changed
			}
			q := s.questions[s.current]
			s.answers = append(s.answers, Answer{
				Question:      s.current,
				TimedOut:      true,
				CorrectOption: q.CorrectOption(),
			})
			s.state = StateAnswered
			s.advanceAt = s.deadline.Add(s.cfg.TimeoutDelay)
			changed = true
		case StateAnswered:
			if now.Before(s.advanceAt) {
				return changed
			}
			if s.current+1 < len(s.questions) {
				s.beginQuestion(s.current+1, s.advanceAt)
			} else {
				s.finish()
			}
			changed = true
		default:
			return changed
		}
	}
}

func (s *Session) finish() {
	s.state = StateResults
	s.advanceAt = time.Time{}
	r := computeResult(s.correct, len(s.questions), s.cfg)
	s.result = &r
	if s.first == nil {
		first := r
		s.first = &first
	}
}

func computeResult(correct, total int, cfg Config) Result {
	ratio := float64(correct) / float64(total)
	r := Result{
		Correct:      correct,
		Total:        total,
		Accuracy:     int(math.Round(ratio * 100)),
		XPEarned:     int(math.Round(ratio * float64(cfg.XPReward))),
		Achievements: []Achievement{},
	}
	for _, a := range cfg.Achievements {
		if correct >= a.MinCorrect {
			r.Achievements = append(r.Achievements, a)
		}
	}
	return r
}

// Remaining returns how long the current question's countdown has left.
// It is zero outside the question state.
func (s *Session) Remaining(now time.Time) time.Duration {
	if s.state != StateQuestion {
		return 0
	}
	if d := s.deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// NeedsExitConfirmation reports whether leaving now would discard a poor
// attempt: fewer than ExitThreshold correct answers on a quiz that has
// progressed past its first question or finished.
func (s *Session) NeedsExitConfirmation() bool {
	if s.correct >= s.cfg.ExitThreshold {
		return false
	}
	return s.state == StateResults || s.current > 0
}

// Exit leaves the quiz. When confirmation is needed and confirm is false the
// session is left untouched and ExitConfirmRequired is returned.
func (s *Session) Exit(confirm bool, now time.Time) (ExitOutcome, error) {
	s.Advance(now)
	if s.state == StateAbandoned {
		return ExitDone, nil
	}
	if !confirm && s.NeedsExitConfirmation() {
		return ExitConfirmRequired, nil
	}
	s.state = StateAbandoned
	return ExitDone, nil
}

// Retry restarts the quiz at the first question with a clean score.
func (s *Session) Retry(now time.Time) error {
	switch s.state {
	case StateQuestion, StateAnswered, StateResults:
	default:
		return ErrWrongState
	}
	s.correct = 0
	s.score = 0
	s.answers = nil
	s.result = nil
	s.beginQuestion(0, now)
	return nil
}

// Result returns the outcome once the session reached the results state.
func (s *Session) Result() (Result, bool) {
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// FirstResult returns the result of the first attempt that reached results,
// even after the session was retried or exited.
func (s *Session) FirstResult() (Result, bool) {
	if s.first == nil {
		return Result{}, false
	}
	return *s.first, true
}

// LastAnswer returns the most recent answer of the current attempt.
func (s *Session) LastAnswer() (Answer, bool) {
	if len(s.answers) == 0 {
		return Answer{}, false
	}
	return s.answers[len(s.answers)-1], true
}

func (s *Session) Answers() []Answer {
	out := make([]Answer, len(s.answers))
	copy(out, s.answers)
	return out
}

// Question returns the current question. Correct flags are stripped
// while the countdown is running.
func (s *Session) Question() (Question, bool) {
	switch s.state {
	case StateQuestion:
		return s.questions[s.current].Public(), true
	case StateAnswered:
		return s.questions[s.current], true
	}
	return Question{}, false
}
