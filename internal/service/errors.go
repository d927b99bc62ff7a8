package service

import (
	"errors"
	"fmt"

	"movie-match/internal/repository"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrRoomNotFound           = errors.New("room not found")
	ErrNotMember              = errors.New("user is not an active member of the room")
	ErrInvalidRoomState       = errors.New("room does not accept this operation in its current state")
	ErrDuplicateVote          = errors.New("user already voted for this item")
	ErrInviteNotFound         = errors.New("invalid or expired invite code")
	ErrGenerationExhausted    = errors.New("could not generate a unique invite code")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable, try again")
	ErrForbidden              = errors.New("operation not permitted")
	ErrInternalServer         = errors.New("internal server error")
)

// mapRepoError 把仓库层错误映射为服务层错误。
// 领域含义明确的仓库错误 (ErrNotFound / ErrConditionFailed) 由调用处自行处理，不会走到这里。
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTemporarilyUnavailable):
		return err
	case errors.Is(err, repository.ErrTransient):
		return fmt.Errorf("%w: %w", ErrTemporarilyUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrInternalServer, err)
	}
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
