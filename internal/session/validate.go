package session

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxTaskLength is the longest task, in characters, the orchestrator accepts.
const MaxTaskLength = 5000

var ErrInvalidTask = errors.New("invalid task")

var rejectedPatterns = []string{"<script", "javascript:", "eval("}

// ValidateTask applies the orchestrator's input rules locally so a bad task
// fails before a run is started.
func ValidateTask(task string) error {
	if strings.TrimSpace(task) == "" {
		return fmt.Errorf("%w: task is empty", ErrInvalidTask)
	}
	if n := utf8.RuneCountInString(task); n > MaxTaskLength {
		return fmt.Errorf("%w: task is %d characters, limit is %d", ErrInvalidTask, n, MaxTaskLength)
	}
	lower := strings.ToLower(task)
	for _, p := range rejectedPatterns {
		if strings.Contains(lower, p) {
			return fmt.Errorf("%w: task contains %q", ErrInvalidTask, p)
		}
	}
	return nil
}
