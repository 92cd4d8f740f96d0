package poll

import "errors"

var (
	// errors
	ErrNotFound        = errors.New("poll not found")
	ErrPollIDExists    = errors.New("a poll with this poll_id already exists")
	ErrNotEligible     = errors.New("you are not eligible to vote in this poll")
	ErrAlreadyVoted    = errors.New("you have already voted in this poll")
	ErrInvalidOption   = errors.New("invalid option selected")
	ErrPollInactive    = errors.New("voting poll is not active or has expired")
	ErrCommentRequired = errors.New("a comment is required to vote in this poll")
	ErrResultsHidden   = errors.New("results cannot be viewed until voting ends")
	ErrPollLocked      = errors.New("cannot update poll after voting has started")
	ErrPollChanged     = errors.New("poll was modified by another request, please retry")
	ErrPollHasVotes    = errors.New("cannot delete poll after votes have been cast")
)

// field validation texts
const (
	errTooFewOptions  = "at least 2 distinct non-blank options are required"
	errEndBeforeStart = "end date must be after start date"
	errInvalidStatus  = "invalid status"
	errBadTransition  = "status cannot go back or leave a final state"
	errInvalidRoles   = "invalid voter roles"
	errBlank          = "this field may not be blank"
)
