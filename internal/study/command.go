package study

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/autoflash/internal/domain"
)

// Command names a session mutation that can arrive over HTTP or WebSocket.
type Command string

const (
	CommandReveal    Command = "reveal"
	CommandHide      Command = "hide"
	CommandNext      Command = "next"
	CommandPrevious  Command = "previous"
	CommandCorrect   Command = "correct"
	CommandIncorrect Command = "incorrect"
	CommandEnd       Command = "end"
	CommandReset     Command = "reset"
)

// ErrUnknownCommand is returned for command names the session does not understand.
var ErrUnknownCommand = errors.New("unknown study command")

// ParseCommand validates a command name.
func ParseCommand(name string) (Command, error) {
	switch c := Command(name); c {
	case CommandReveal, CommandHide, CommandNext, CommandPrevious,
		CommandCorrect, CommandIncorrect, CommandEnd, CommandReset:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}

// IsGrade reports whether the command records a grade.
func (c Command) IsGrade() bool {
	return c == CommandCorrect || c == CommandIncorrect
}

// Apply dispatches cmd and reports whether the session changed.
func (s *Session) Apply(cmd Command) (bool, error) {
	switch cmd {
	case CommandReveal:
		return s.ShowAnswer(), nil
	case CommandHide:
		return s.HideAnswer(), nil
	case CommandNext:
		return s.NextCard(), nil
	case CommandPrevious:
		return s.PreviousCard(), nil
	case CommandCorrect:
		return s.MarkCorrect(), nil
	case CommandIncorrect:
		return s.MarkIncorrect(), nil
	case CommandEnd:
		return s.End(), nil
	case CommandReset:
		return s.Reset(), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

// Snapshot is a read-only view of a session and its derived values.
type Snapshot struct {
	Active          bool              `json:"active"`
	Name            string            `json:"name,omitempty"`
	CurrentIndex    int               `json:"current_index"`
	TotalCards      int               `json:"total_cards"`
	CurrentCard     *domain.Flashcard `json:"current_card"`
	AnswerRevealed  bool              `json:"answer_revealed"`
	CorrectCount    int               `json:"correct_count"`
	IncorrectCount  int               `json:"incorrect_count"`
	ProgressPercent float64           `json:"progress_percent"`
	AccuracyPercent float64           `json:"accuracy_percent"`
	Complete        bool              `json:"complete"`
	StartedAt       *time.Time        `json:"started_at"`
	EndedAt         *time.Time        `json:"ended_at"`
	ElapsedSeconds  int64             `json:"elapsed_seconds"`
}

// Graded returns the total number of grades in the snapshot.
func (s Snapshot) Graded() int {
	return s.CorrectCount + s.IncorrectCount
}

// Snapshot captures the current state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Active:          s.Active(),
		Name:            s.name,
		CurrentIndex:    s.currentIndex,
		TotalCards:      len(s.cards),
		AnswerRevealed:  s.answerRevealed,
		CorrectCount:    s.correctCount,
		IncorrectCount:  s.incorrectCount,
		ProgressPercent: s.ProgressPercent(),
		AccuracyPercent: s.AccuracyPercent(),
		Complete:        s.Complete(),
		StartedAt:       copyTime(s.startedAt),
		EndedAt:         copyTime(s.endedAt),
		ElapsedSeconds:  int64(s.Elapsed() / time.Second),
	}
	if card, ok := s.CurrentCard(); ok {
		snap.CurrentCard = &card
	}
	return snap
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
