package poll

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/bosvoting/core"
)

const (
	pollIDAttempts = 3
	updateAttempts = 3
)

type (
	// Sweeper holds the bulk operations run by the status scheduler.
	Sweeper interface {
		// ActivateDue moves every draft poll whose start date is not after `now` to active.
		ActivateDue(ctx context.Context, now time.Time) (int64, error)
		// CompleteDue moves every active, auto-closing poll whose end date is not after `now` to completed.
		CompleteDue(ctx context.Context, now time.Time) (int64, error)
		// PollsEndingBetween returns the active polls whose end date is in [from, to].
		PollsEndingBetween(ctx context.Context, from, to time.Time) ([]Poll, error)
	}

	Repository interface {
		Sweeper

		// CreatePoll returns ErrPollIDExists if poll_id is taken.
		CreatePoll(ctx context.Context, p Poll) (Poll, error)
		GetPollByID(ctx context.Context, pollID string) (Poll, error)
		// QueryPolls applies AND operation on the set QueryFilter fields.
		// Polls are ordered by `ordering`, newest first when it is empty.
		QueryPolls(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Poll, error)
		// UpdatePoll saves the editable fields and status of `p` if the stored poll has no votes
		// or is still a draft, and its status is still `from`. It returns ErrPollLocked or
		// ErrPollChanged when one of these conditions does not hold.
		UpdatePoll(ctx context.Context, p Poll, from Status) (Poll, error)
		// DeletePoll deletes a poll without votes, and returns ErrPollHasVotes otherwise.
		DeletePoll(ctx context.Context, pollID string) error
		// AppendVote atomically appends `v` if the poll is active at `now` and, unless multiple
		// votes are allowed, the voter has not voted yet. It returns the updated poll, or
		// ErrAlreadyVoted / ErrPollInactive when the conditions do not hold.
		AppendVote(ctx context.Context, pollID string, v Vote, now time.Time) (Poll, error)
		// TransitionStatus sets the status to `to` only if it is currently `from`.
		TransitionStatus(ctx context.Context, pollID string, from, to Status, now time.Time) error
		// CountByStatus groups polls by status with their number and their summed votes.
		CountByStatus(ctx context.Context) ([]StatusCount, error)
	}

	// Notifier delivers the side effects of poll operations.
	// Implementations must not block: delivery happens asynchronously and failures are theirs to log.
	Notifier interface {
		PollCreated(p Poll)
		VoteConfirmed(p Poll, v Vote, voter Caller)
		// PollClosing reports whether the reminder was accepted for delivery.
		PollClosing(p Poll, window time.Duration) bool
	}

	Options struct {
		Repo     Repository
		Notifier Notifier
		NowFunc  func() time.Time // mockable
	}

	Service struct {
		repo     Repository
		notifier Notifier
		nowFunc  func() time.Time

		rndMu sync.Mutex
		rnd   *rand.Rand
	}
)

func NewService(opts Options) *Service {
	svc := &Service{
		repo:     opts.Repo,
		notifier: opts.Notifier,
		nowFunc:  opts.NowFunc,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if svc.nowFunc == nil {
		svc.nowFunc = time.Now
	}
	return svc
}

func (svc *Service) now() time.Time {
	return svc.nowFunc().UTC()
}

// Now is the service clock, in UTC.
func (svc *Service) Now() time.Time {
	return svc.now()
}

func (svc *Service) newPollID(now time.Time) string {
	svc.rndMu.Lock()
	defer svc.rndMu.Unlock()
	return NewPollID(now, svc.rnd)
}

// load fetches a poll, recomputes its tally and persists any overdue status transition.
func (svc *Service) load(ctx context.Context, pollID string) (Poll, error) {
	p, err := svc.repo.GetPollByID(ctx, pollID)
	if err != nil {
		return Poll{}, err
	}
	now := svc.now()
	prev := p.Status
	if p.ApplyTransitions(now) {
		if err = svc.repo.TransitionStatus(ctx, p.PollID, prev, p.Status, now); err != nil {
			return Poll{}, errors.Wrap(err, "persisting status transition")
		}
		p.UpdatedAt = now
	}
	p.CalculateResults()
	return p, nil
}

func (svc *Service) Create(ctx context.Context, np NewPoll, creator Caller) (Poll, error) {
	now := svc.now()
	p := Poll{
		Title:       np.Title,
		Description: np.Description,
		Options:     np.Options,
		CreatedBy: Creator{
			AdminID: creator.ID,
			Name:    creator.Name,
			Role:    creator.Role,
		},
		EligibleVoters:     np.EligibleVoters,
		StartDate:          np.StartDate.UTC(),
		EndDate:            np.EndDate.UTC(),
		IsAnonymous:        np.IsAnonymous,
		AllowMultipleVotes: np.AllowMultipleVotes,
		Settings:           Settings{AutoCloseOnEndDate: true},
		Status:             StatusDraft,
		Votes:              []Vote{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if len(p.EligibleVoters) == 0 {
		p.EligibleVoters = append([]string(nil), DefaultEligibleVoters...)
	}
	if s := np.Settings; s != nil {
		p.Settings.RequireComments = s.RequireComments
		p.Settings.ShowResultsBeforeEnd = s.ShowResultsBeforeEnd
		if s.AutoCloseOnEndDate != nil {
			p.Settings.AutoCloseOnEndDate = *s.AutoCloseOnEndDate
		}
	}
	p.ApplyTransitions(now)
	p.CalculateResults()

	var err error
	for attempt := 0; attempt < pollIDAttempts; attempt++ {
		p.PollID = svc.newPollID(now)
		var created Poll
		if created, err = svc.repo.CreatePoll(ctx, p); err == nil {
			p = created
			break
		}
		if err != ErrPollIDExists {
			return Poll{}, errors.Wrap(err, "inserting poll")
		}
	}
	if err != nil {
		return Poll{}, errors.Wrap(err, "generating poll_id")
	}

	p.CalculateResults()
	svc.notifier.PollCreated(p)
	return p, nil
}

func (svc *Service) Get(ctx context.Context, pollID string) (Poll, error) {
	return svc.load(ctx, pollID)
}

// persistDue stores every overdue status transition, so that status filters see current statuses.
func (svc *Service) persistDue(ctx context.Context, now time.Time) error {
	if _, err := svc.repo.ActivateDue(ctx, now); err != nil {
		return errors.Wrap(err, "activating due polls")
	}
	if _, err := svc.repo.CompleteDue(ctx, now); err != nil {
		return errors.Wrap(err, "completing due polls")
	}
	return nil
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Poll, error) {
	if err := svc.persistDue(ctx, svc.now()); err != nil {
		return nil, err
	}
	polls, err := svc.repo.QueryPolls(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying polls")
	}
	for i := range polls {
		polls[i].CalculateResults()
	}
	return polls, nil
}

// ActivePoll is an open poll as seen by one voter.
type ActivePoll struct {
	Poll
	UserHasVoted bool `json:"user_has_voted"`
	CanVote      bool `json:"can_vote"`
}

// ActiveFor returns the polls `voter` can currently take part in, newest first.
func (svc *Service) ActiveFor(ctx context.Context, voter Caller) ([]ActivePoll, error) {
	roles := voter.BOSRoles()
	if len(roles) == 0 {
		return []ActivePoll{}, nil
	}
	now := svc.now()
	if err := svc.persistDue(ctx, now); err != nil {
		return nil, err
	}
	filter := QueryFilter{
		Status:        StatusActive,
		EligibleRoles: roles,
		OpenAt:        now,
	}
	polls, err := svc.repo.QueryPolls(ctx, filter, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying active polls")
	}
	active := make([]ActivePoll, 0, len(polls))
	for _, p := range polls {
		p.CalculateResults()
		hasVoted := p.HasVoted(voter.ID)
		active = append(active, ActivePoll{
			Poll:         p,
			UserHasVoted: hasVoted,
			CanVote:      p.AllowMultipleVotes || !hasVoted,
		})
	}
	return active, nil
}

func (svc *Service) CastVote(ctx context.Context, pollID string, vr VoteRequest, voter Caller, ip string) (Vote, error) {
	p, err := svc.load(ctx, pollID)
	if err != nil {
		return Vote{}, err
	}

	now := svc.now()
	if err = p.CheckVote(voter, vr.OptionSelected, vr.Comment, now); err != nil {
		return Vote{}, err
	}

	vote := p.NewVote(voter, vr.OptionSelected, vr.Comment, ip, now)
	if p, err = svc.repo.AppendVote(ctx, pollID, vote, now); err != nil {
		if err == ErrAlreadyVoted || err == ErrPollInactive || err == ErrNotFound {
			return Vote{}, err
		}
		return Vote{}, errors.Wrap(err, "appending vote")
	}
	p.CalculateResults()

	svc.notifier.VoteConfirmed(p, vote, voter)
	return vote, nil
}

// Results returns the poll with a fresh tally, unless results are still hidden.
func (svc *Service) Results(ctx context.Context, pollID string) (Poll, error) {
	p, err := svc.load(ctx, pollID)
	if err != nil {
		return Poll{}, err
	}
	if !p.ResultsVisible() {
		return Poll{}, ErrResultsHidden
	}
	return p, nil
}

// LiveResults returns the poll with a fresh tally; overdue polls are completed on the way.
func (svc *Service) LiveResults(ctx context.Context, pollID string) (Poll, error) {
	return svc.load(ctx, pollID)
}

// Update applies `up` to the poll. Changes are computed from the stored poll and only saved
// if its status did not move in the meantime; the whole update is replayed otherwise.
func (svc *Service) Update(ctx context.Context, pollID string, up UpdatePoll) (Poll, error) {
	for attempt := 1; ; attempt++ {
		p, err := svc.update(ctx, pollID, up)
		if err != ErrPollChanged || attempt == updateAttempts {
			return p, err
		}
	}
}

func (svc *Service) update(ctx context.Context, pollID string, up UpdatePoll) (Poll, error) {
	p, err := svc.load(ctx, pollID)
	if err != nil {
		return Poll{}, err
	}
	if p.IsLocked() {
		return Poll{}, ErrPollLocked
	}
	loaded := p.Status

	if up.Title != nil {
		p.Title = *up.Title
	}
	if up.Description != nil {
		p.Description = *up.Description
	}
	if up.Options != nil {
		p.Options = up.Options
	}
	if up.StartDate != nil {
		p.StartDate = up.StartDate.UTC()
	}
	if up.EndDate != nil {
		p.EndDate = up.EndDate.UTC()
	}
	if s := up.Settings; s != nil {
		if s.RequireComments != nil {
			p.Settings.RequireComments = *s.RequireComments
		}
		if s.ShowResultsBeforeEnd != nil {
			p.Settings.ShowResultsBeforeEnd = *s.ShowResultsBeforeEnd
		}
		if s.AutoCloseOnEndDate != nil {
			p.Settings.AutoCloseOnEndDate = *s.AutoCloseOnEndDate
		}
	}
	if up.Status != nil {
		if !canMoveTo(p.Status, *up.Status) {
			return Poll{}, core.NewFieldValidationError("status", errBadTransition)
		}
		p.Status = *up.Status
	}
	if !p.EndDate.After(p.StartDate) {
		return Poll{}, core.NewFieldValidationError("end_date", errEndBeforeStart)
	}

	now := svc.now()
	p.ApplyTransitions(now)
	p.UpdatedAt = now

	if p, err = svc.repo.UpdatePoll(ctx, p, loaded); err != nil {
		if err == ErrPollLocked || err == ErrPollChanged || err == ErrNotFound {
			return Poll{}, err
		}
		return Poll{}, errors.Wrap(err, "updating poll")
	}
	p.CalculateResults()
	return p, nil
}

func (svc *Service) Delete(ctx context.Context, pollID string) error {
	p, err := svc.repo.GetPollByID(ctx, pollID)
	if err != nil {
		return err
	}
	if len(p.Votes) > 0 {
		return ErrPollHasVotes
	}
	if err = svc.repo.DeletePoll(ctx, pollID); err != nil {
		if err == ErrPollHasVotes || err == ErrNotFound {
			return err
		}
		return errors.Wrap(err, "deleting poll")
	}
	return nil
}

func (svc *Service) Statistics(ctx context.Context) (Statistics, error) {
	counts, err := svc.repo.CountByStatus(ctx)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "counting polls by status")
	}
	stats := Statistics{StatusBreakdown: counts}
	if stats.StatusBreakdown == nil {
		stats.StatusBreakdown = []StatusCount{}
	}
	for _, c := range counts {
		stats.TotalPolls += c.Count
		switch c.Status {
		case StatusActive:
			stats.ActivePolls = c.Count
		case StatusCompleted:
			stats.CompletedPolls = c.Count
		}
	}
	return stats, nil
}
