package domain

import "errors"

// Domain errors
var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrLeaderboardNotFound = errors.New("leaderboard not found")
	ErrAdminNotFound       = errors.New("admin not found")
	ErrGitHubLinked        = errors.New("github identity already linked")
	ErrSignatureInvalid    = errors.New("invalid submission signature")
	ErrDuplicateSubmission = errors.New("duplicate score submission")
	ErrStaleSubmission     = errors.New("submission timestamp outside accepted window")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInternalError       = errors.New("internal server error")
)

// Error codes reported to clients
const (
	CodeUnauthenticated     = "unauthenticated"
	CodeUnknownPlayer       = "unknown_player"
	CodeUnknownLeaderboard  = "unknown_leaderboard"
	CodeInvalidSignature    = "invalid_signature"
	CodeDuplicateSubmission = "duplicate_submission"
	CodeStaleSubmission     = "stale_submission"
	CodeInvalidRequest      = "invalid_request"
	CodeInternalError       = "internal_error"
)

// ErrorCode classifies an error. Anything outside the taxonomy is internal.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrPlayerNotFound):
		return CodeUnknownPlayer
	case errors.Is(err, ErrLeaderboardNotFound):
		return CodeUnknownLeaderboard
	case errors.Is(err, ErrSignatureInvalid):
		return CodeInvalidSignature
	case errors.Is(err, ErrDuplicateSubmission):
		return CodeDuplicateSubmission
	case errors.Is(err, ErrStaleSubmission):
		return CodeStaleSubmission
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	default:
		return CodeInternalError
	}
}
