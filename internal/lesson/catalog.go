// Package lesson holds the built-in lesson and quiz catalog.
package lesson

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dukerupert/vitisco/internal/quiz"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Card is one flash card in a lesson. Alphabet lessons use Letter,
// phrase lessons use Phrase and number lessons use Number.
type Card struct {
	Letter        string `json:"letter,omitempty" yaml:"letter"`
	Phrase        string `json:"phrase,omitempty" yaml:"phrase"`
	Number        string `json:"number,omitempty" yaml:"number"`
	Word          string `json:"word,omitempty" yaml:"word"`
	Pronunciation string `json:"pronunciation,omitempty" yaml:"pronunciation"`
	Meaning       string `json:"meaning,omitempty" yaml:"meaning"`
	Usage         string `json:"usage,omitempty" yaml:"usage"`
	Example       string `json:"example,omitempty" yaml:"example"`
	SignImageURL  string `json:"signImageUrl,omitempty" yaml:"signImageUrl"`
}

type Lesson struct {
	ID       int    `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Language string `json:"language" yaml:"language"`
	Level    int    `json:"level" yaml:"level"`
	XPReward int    `json:"xpReward" yaml:"xpReward"`
	Cards    []Card `json:"cards" yaml:"cards"`
	HasQuiz  bool   `json:"hasQuiz" yaml:"-"`
	Quiz     *Quiz  `json:"-" yaml:"quiz"`
}

type Quiz struct {
	LessonID           int                `json:"lessonId" yaml:"-"`
	Title              string             `json:"title" yaml:"title"`
	PerQuestionSeconds int                `json:"perQuestionSeconds" yaml:"perQuestionSeconds"`
	XPReward           int                `json:"xpReward" yaml:"xpReward"`
	Questions          []quiz.Question    `json:"questions" yaml:"questions"`
	Achievements       []quiz.Achievement `json:"achievements" yaml:"achievements"`
}

// Config returns the session configuration for q.
func (q *Quiz) Config() quiz.Config {
	cfg := quiz.DefaultConfig()
	cfg.PerQuestion = time.Duration(q.PerQuestionSeconds) * time.Second
	cfg.XPReward = q.XPReward
	cfg.Achievements = q.Achievements
	return cfg
}

// Public returns a copy of q safe to send to a learner.
func (q *Quiz) Public() *Quiz {
	out := *q
	out.Questions = make([]quiz.Question, len(q.Questions))
	for i, question := range q.Questions {
		out.Questions[i] = question.Public()
	}
	return &out
}

type Language struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// Filter narrows Lessons. Zero values match everything.
type Filter struct {
	Language string
	Level    int
}

type Catalog struct {
	languages []Language
	lessons   []*Lesson
	byID      map[int]*Lesson
}

type catalogFile struct {
	Languages    []Language `yaml:"languages"`
	QuizDefaults struct {
		PerQuestionSeconds int `yaml:"perQuestionSeconds"`
		XPReward           int `yaml:"xpReward"`
	} `yaml:"quizDefaults"`
	Lessons []*Lesson `yaml:"lessons"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse builds a catalog from YAML and validates every quiz.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		languages: f.Languages,
		byID:      make(map[int]*Lesson, len(f.Lessons)),
	}
	for _, l := range f.Lessons {
		if _, dup := c.byID[l.ID]; dup {
			return nil, fmt.Errorf("parse catalog: duplicate lesson id %d", l.ID)
		}
		if l.Quiz != nil {
			q := l.Quiz
			q.LessonID = l.ID
			if q.Title == "" {
				q.Title = l.Title
			}
			if q.PerQuestionSeconds == 0 {
				q.PerQuestionSeconds = f.QuizDefaults.PerQuestionSeconds
			}
			if q.XPReward == 0 {
				q.XPReward = f.QuizDefaults.XPReward
			}
			if len(q.Achievements) == 0 {
				q.Achievements = quiz.DefaultAchievements
			}
			if _, err := quiz.NewSession(q.Config(), q.Questions); err != nil {
				return nil, fmt.Errorf("parse catalog: lesson %d quiz: %w", l.ID, err)
			}
			l.HasQuiz = true
		}
		c.byID[l.ID] = l
		c.lessons = append(c.lessons, l)
	}
	if len(c.languages) == 0 {
		c.languages = derivedLanguages(c.lessons)
	}
	return c, nil
}

func derivedLanguages(lessons []*Lesson) []Language {
	seen := make(map[string]bool)
	var out []Language
	for _, l := range lessons {
		if seen[l.Language] {
			continue
		}
		seen[l.Language] = true
		name := l.Language
		if name != "" {
			name = strings.ToUpper(name[:1]) + name[1:]
		}
		out = append(out, Language{Code: l.Language, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (c *Catalog) Languages() []Language {
	out := make([]Language, len(c.languages))
	copy(out, c.languages)
	return out
}

// Lessons returns the lessons matching f ordered by level then id.
func (c *Catalog) Lessons(f Filter) []Lesson {
	out := []Lesson{}
	for _, l := range c.lessons {
		if f.Language != "" && !strings.EqualFold(l.Language, f.Language) {
			continue
		}
		if f.Level > 0 && l.Level != f.Level {
			continue
		}
		out = append(out, *l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Lesson returns the lesson with the given id, or nil.
func (c *Catalog) Lesson(id int) *Lesson {
	l, ok := c.byID[id]
	if !ok {
		return nil
	}
	cp := *l
	return &cp
}

// Quiz returns the full quiz for a lesson, including correct flags, or nil.
func (c *Catalog) Quiz(lessonID int) *Quiz {
	l, ok := c.byID[lessonID]
	if !ok || l.Quiz == nil {
		return nil
	}
	return l.Quiz
}
