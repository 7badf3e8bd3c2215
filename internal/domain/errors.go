package domain

import "errors"

var (
	// ErrNotFound is the umbrella for missing players, games and questions.
	ErrNotFound = errors.New("not found")
	// ErrPlayerNotFound is returned when a player id or name is unknown.
	ErrPlayerNotFound = wrap(ErrNotFound, "player not found")
	// ErrGameNotFound indicates the game could not be loaded.
	ErrGameNotFound = wrap(ErrNotFound, "game not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = wrap(ErrNotFound, "question not found")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = wrap(ErrNotFound, "session not found")
	// ErrUnlockNotFound is returned for ids outside the unlock catalog.
	ErrUnlockNotFound = wrap(ErrNotFound, "unlock not found")

	// ErrNoActiveSession is returned when a player answers without an open session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrExhausted means no unanswered question is left at the requested stage.
	ErrExhausted = errors.New("no eligible question left")

	// ErrValidation flags malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrUnlockNotOwned is returned when selecting an unlock the player never earned.
	ErrUnlockNotOwned = wrap(ErrValidation, "unlock not owned by player")
	// ErrConflict flags a state conflict such as a duplicate name or a lost score update.
	ErrConflict = errors.New("resource state conflict")
	// ErrPlayerExists is returned on signup with a taken name.
	ErrPlayerExists = wrap(ErrConflict, "player already exists")
	// ErrAlreadyAnswered is returned when a question is answered twice in one session.
	ErrAlreadyAnswered = wrap(ErrConflict, "question already answered in this session")
	// ErrScoreConflict means a concurrent submission changed the score first.
	ErrScoreConflict = wrap(ErrConflict, "session score changed concurrently")

	// ErrUnauthorized covers bad credentials and invalid tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the caller lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited is returned when a client exceeds its request budget.
	ErrRateLimited = errors.New("too many requests")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func wrap(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}
