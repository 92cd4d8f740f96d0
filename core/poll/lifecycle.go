package poll

import (
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/trezcool/bosvoting/core"
)

// NewPollID returns a human-readable poll id: "POLL" + unix millis + a random number in [0, 999].
func NewPollID(now time.Time, rnd *rand.Rand) string {
	ms := now.UnixNano() / int64(time.Millisecond)
	return "POLL" + strconv.FormatInt(ms, 10) + strconv.Itoa(rnd.Intn(1000))
}

// ApplyTransitions moves the poll forward according to `now`:
// draft -> active once started, active -> completed once ended (when auto-close is on).
// It reports whether the status changed.
func (p *Poll) ApplyTransitions(now time.Time) bool {
	prev := p.Status
	if p.Status == StatusDraft && !now.Before(p.StartDate) {
		p.Status = StatusActive
	}
	if p.Status == StatusActive && !now.Before(p.EndDate) && p.Settings.AutoCloseOnEndDate {
		p.Status = StatusCompleted
	}
	return p.Status != prev
}

// IsActive reports whether votes are accepted at `now`.
// The status alone is not enough: a poll without auto-close stays "active" past its end date.
func (p Poll) IsActive(now time.Time) bool {
	return p.Status == StatusActive && !now.Before(p.StartDate) && now.Before(p.EndDate)
}

func (p Poll) IsEligible(role string) bool {
	return core.ContainsString(p.EligibleVoters, role)
}

// IsEligibleAny reports whether one of `roles` may vote.
func (p Poll) IsEligibleAny(roles []string) bool {
	for _, role := range roles {
		if p.IsEligible(role) {
			return true
		}
	}
	return false
}

// votingRole is the role `voter` votes with: the acting role when eligible, else the first
// eligible role held. It is empty when the voter is not eligible.
func (p Poll) votingRole(voter Caller) string {
	if p.IsEligible(voter.Role) {
		return voter.Role
	}
	for _, role := range voter.BOSRoles() {
		if p.IsEligible(role) {
			return role
		}
	}
	return ""
}

func (p Poll) HasVoted(voterID string) bool {
	for _, v := range p.Votes {
		if v.VoterID == voterID {
			return true
		}
	}
	return false
}

func (p Poll) HasOption(option string) bool {
	return core.ContainsString(p.Options, option)
}

// CanVote reports whether the voter may (still) add a vote, time window aside.
func (p Poll) CanVote(voterID string) bool {
	return p.AllowMultipleVotes || !p.HasVoted(voterID)
}

// IsLocked reports whether the poll can no longer be edited.
func (p Poll) IsLocked() bool {
	return len(p.Votes) > 0 && p.Status != StatusDraft
}

// ResultsVisible reports whether aggregate results may be shown.
func (p Poll) ResultsVisible() bool {
	return p.Status != StatusActive || p.Settings.ShowResultsBeforeEnd
}

// TimeRemaining is the time left before the end date, 0 once it has passed.
func (p Poll) TimeRemaining(now time.Time) time.Duration {
	if p.EndDate.After(now) {
		return p.EndDate.Sub(now)
	}
	return 0
}

// CheckVote runs the cast-vote checks in order: eligibility, duplicate vote, option, active window
// and required comment.
func (p Poll) CheckVote(voter Caller, option, comment string, now time.Time) error {
	if p.votingRole(voter) == "" {
		return ErrNotEligible
	}
	if !p.CanVote(voter.ID) {
		return ErrAlreadyVoted
	}
	if !p.HasOption(option) {
		return ErrInvalidOption
	}
	if !p.IsActive(now) {
		return ErrPollInactive
	}
	if p.Settings.RequireComments && comment == "" {
		return ErrCommentRequired
	}
	return nil
}

// NewVote builds the vote `voter` casts on the poll.
func (p Poll) NewVote(voter Caller, option, comment, ip string, now time.Time) Vote {
	name := voter.Name
	if p.IsAnonymous {
		name = AnonymousVoterName
	}
	role := p.votingRole(voter)
	if role == "" {
		role = voter.Role
	}
	return Vote{
		VoterID:        voter.ID,
		VoterName:      name,
		VoterRole:      role,
		OptionSelected: option,
		VotedAt:        now,
		IPAddress:      ip,
		Comment:        comment,
	}
}

// CalculateResults recomputes TotalVotes and Results from Votes.
// Results follow the declared option order; votes for options no longer declared are not counted.
func (p *Poll) CalculateResults() {
	counts := make(map[string]int, len(p.Options))
	for _, v := range p.Votes {
		counts[v.OptionSelected]++
	}

	p.TotalVotes = len(p.Votes)
	p.Results = make([]Result, 0, len(p.Options))
	for _, opt := range p.Options {
		res := Result{Option: opt, VoteCount: counts[opt]}
		if p.TotalVotes > 0 {
			res.Percentage = int(math.Round(float64(res.VoteCount) / float64(p.TotalVotes) * 100))
		}
		p.Results = append(p.Results, res)
	}
}

// RecentVotes returns up to n of the latest votes, newest first.
func (p Poll) RecentVotes(n int) []Vote {
	start := len(p.Votes) - n
	if start < 0 {
		start = 0
	}
	recent := make([]Vote, 0, len(p.Votes)-start)
	for i := len(p.Votes) - 1; i >= start; i-- {
		recent = append(recent, p.Votes[i])
	}
	return recent
}

// canMoveTo reports whether an administrator may set the poll status to `to`.
func canMoveTo(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusDraft:
		return to == StatusActive || to == StatusCancelled
	case StatusActive:
		return to == StatusCompleted || to == StatusCancelled
	}
	return false
}
