// Package study implements the flashcard study-session state machine and a
// per-user registry of live sessions.
package study

import (
	"time"

	"github.com/ashureev/autoflash/internal/domain"
)

// Session tracks progress through one run over a fixed deck of flashcards.
//
// A Session is not safe for concurrent use; Registry serialises access when
// sessions are shared between requests. Every command is total: calls that
// make no sense in the current state leave it untouched and report false.
type Session struct {
	name           string
	cards          []domain.Flashcard
	currentIndex   int
	answerRevealed bool
	correctCount   int
	incorrectCount int
	startedAt      *time.Time
	endedAt        *time.Time

	oneGradePerVisit bool
	gradedThisVisit  bool
	now              func() time.Time
}

type settings struct {
	now              func() time.Time
	oneGradePerVisit bool
}

func resolve(opts []Option) settings {
	st := settings{now: time.Now}
	for _, opt := range opts {
		opt(&st)
	}
	return st
}

// Option configures a Session.
type Option func(*settings)

// WithClock replaces time.Now as the source of start, end and elapsed times.
func WithClock(now func() time.Time) Option {
	return func(st *settings) { st.now = now }
}

// WithOneGradePerVisit rejects a second grade for the same card until the
// learner navigates away from it.
func WithOneGradePerVisit() Option {
	return func(st *settings) { st.oneGradePerVisit = true }
}

// New returns an idle session with no cards.
func New(opts ...Option) *Session {
	st := resolve(opts)
	return &Session{now: st.now, oneGradePerVisit: st.oneGradePerVisit}
}

// Start begins a new run over cards, discarding any previous state.
// The deck is copied; later changes to the caller's slice are not observed.
func (s *Session) Start(cards []domain.Flashcard, name string) {
	now := s.now()
	s.name = name
	s.cards = append([]domain.Flashcard(nil), cards...)
	s.currentIndex = 0
	s.answerRevealed = false
	s.correctCount = 0
	s.incorrectCount = 0
	s.startedAt = &now
	s.endedAt = nil
	s.gradedThisVisit = false
}

// End stamps the end time. Calling it again moves the stamp forward.
// It is a no-op before the first Start.
func (s *Session) End() bool {
	if s.startedAt == nil {
		return false
	}
	now := s.now()
	s.endedAt = &now
	return true
}

// Reset returns the session to its freshly constructed state.
func (s *Session) Reset() bool {
	changed := s.startedAt != nil || len(s.cards) > 0
	s.name = ""
	s.cards = nil
	s.currentIndex = 0
	s.answerRevealed = false
	s.correctCount = 0
	s.incorrectCount = 0
	s.startedAt = nil
	s.endedAt = nil
	s.gradedThisVisit = false
	return changed
}

// ShowAnswer reveals the current card's answer.
func (s *Session) ShowAnswer() bool {
	if !s.Active() || s.answerRevealed {
		return false
	}
	s.answerRevealed = true
	return true
}

// HideAnswer conceals the current card's answer.
func (s *Session) HideAnswer() bool {
	if !s.answerRevealed {
		return false
	}
	s.answerRevealed = false
	return true
}

// NextCard advances one card, stopping at the last, and hides the answer.
func (s *Session) NextCard() bool {
	if !s.Active() {
		return false
	}
	return s.moveTo(min(s.currentIndex+1, len(s.cards)-1))
}

// PreviousCard steps back one card, stopping at the first, and hides the answer.
func (s *Session) PreviousCard() bool {
	if !s.Active() {
		return false
	}
	return s.moveTo(max(s.currentIndex-1, 0))
}

func (s *Session) moveTo(idx int) bool {
	changed := idx != s.currentIndex || s.answerRevealed
	if idx != s.currentIndex {
		s.gradedThisVisit = false
	}
	s.currentIndex = idx
	s.answerRevealed = false
	return changed
}

// MarkCorrect records a correct answer for the current card.
// It neither advances nor hides the answer.
func (s *Session) MarkCorrect() bool {
	if !s.canGrade() {
		return false
	}
	s.correctCount++
	s.gradedThisVisit = true
	return true
}

// MarkIncorrect records an incorrect answer for the current card.
func (s *Session) MarkIncorrect() bool {
	if !s.canGrade() {
		return false
	}
	s.incorrectCount++
	s.gradedThisVisit = true
	return true
}

func (s *Session) canGrade() bool {
	if !s.Active() {
		return false
	}
	return !s.oneGradePerVisit || !s.gradedThisVisit
}

// Active reports whether the session holds at least one card.
func (s *Session) Active() bool {
	return len(s.cards) > 0
}

// Ended reports whether End has been called since the last Start.
func (s *Session) Ended() bool {
	return s.endedAt != nil
}

// Name returns the display label given to Start.
func (s *Session) Name() string {
	return s.name
}

// Cards returns a copy of the deck.
func (s *Session) Cards() []domain.Flashcard {
	return append([]domain.Flashcard(nil), s.cards...)
}

// Len returns the number of cards in the deck.
func (s *Session) Len() int {
	return len(s.cards)
}

// CurrentIndex returns the zero-based position in the deck.
func (s *Session) CurrentIndex() int {
	return s.currentIndex
}

// CurrentCard returns the card at the current position.
func (s *Session) CurrentCard() (domain.Flashcard, bool) {
	if !s.Active() {
		return domain.Flashcard{}, false
	}
	return s.cards[s.currentIndex], true
}

// AnswerRevealed reports whether the current answer is showing.
func (s *Session) AnswerRevealed() bool {
	return s.answerRevealed
}

// CorrectCount returns the number of correct grades.
func (s *Session) CorrectCount() int {
	return s.correctCount
}

// IncorrectCount returns the number of incorrect grades.
func (s *Session) IncorrectCount() int {
	return s.incorrectCount
}

// Graded returns the total number of grades recorded.
func (s *Session) Graded() int {
	return s.correctCount + s.incorrectCount
}

// OnLastCard reports whether the current card is the final one.
func (s *Session) OnLastCard() bool {
	return s.Active() && s.currentIndex == len(s.cards)-1
}

// ProgressPercent is the 1-based position as a percentage of the deck.
func (s *Session) ProgressPercent() float64 {
	if !s.Active() {
		return 0
	}
	return float64(s.currentIndex+1) / float64(len(s.cards)) * 100
}

// AccuracyPercent is correct grades as a percentage of all grades.
func (s *Session) AccuracyPercent() float64 {
	graded := s.Graded()
	if graded == 0 {
		return 0
	}
	return float64(s.correctCount) / float64(graded) * 100
}

// Complete reports whether the learner is on the last card and has recorded
// at least as many grades as there are cards.
func (s *Session) Complete() bool {
	return s.OnLastCard() && s.Graded() >= len(s.cards)
}

// StartedAt returns when the current run began, or nil.
func (s *Session) StartedAt() *time.Time {
	return s.startedAt
}

// EndedAt returns when the current run ended, or nil while it is running.
func (s *Session) EndedAt() *time.Time {
	return s.endedAt
}

// Elapsed returns whole seconds since start, frozen once the session ends.
func (s *Session) Elapsed() time.Duration {
	if s.startedAt == nil {
		return 0
	}
	end := s.now()
	if s.endedAt != nil {
		end = *s.endedAt
	}
	d := end.Sub(*s.startedAt)
	if d < 0 {
		return 0
	}
	return d.Truncate(time.Second)
}
