package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/poll"
)

type pollRepository struct {
	db *pollTable
}

var _ poll.Repository = (*pollRepository)(nil) // interface compliance check

func NewPollRepository(db *DB) poll.Repository {
	return &pollRepository{db: db.poll}
}

func copyPoll(p poll.Poll) poll.Poll {
	p.Options = append([]string(nil), p.Options...)
	p.EligibleVoters = append([]string(nil), p.EligibleVoters...)
	p.Votes = append([]poll.Vote{}, p.Votes...)
	p.Results = append([]poll.Result(nil), p.Results...)
	return p
}

func (repo *pollRepository) CreatePoll(_ context.Context, p poll.Poll) (poll.Poll, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.table[p.PollID]; ok {
		return poll.Poll{}, poll.ErrPollIDExists
	}
	stored := copyPoll(p)
	stored.TotalVotes = len(stored.Votes)
	repo.db.table[p.PollID] = &stored
	repo.db.pkSeq++
	repo.db.order[p.PollID] = repo.db.pkSeq
	return copyPoll(stored), nil
}

func (repo *pollRepository) GetPollByID(_ context.Context, pollID string) (poll.Poll, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if p, ok := repo.db.table[pollID]; ok {
		return copyPoll(*p), nil
	}
	return poll.Poll{}, poll.ErrNotFound
}

func matches(p *poll.Poll, f poll.QueryFilter) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.CreatedBy != "" && p.CreatedBy.AdminID != f.CreatedBy {
		return false
	}
	if len(f.EligibleRoles) > 0 && !p.IsEligibleAny(f.EligibleRoles) {
		return false
	}
	if !f.OpenAt.IsZero() && (f.OpenAt.Before(p.StartDate) || !f.OpenAt.Before(p.EndDate)) {
		return false
	}
	return true
}

// compare returns <0, 0 or >0 as a is before, equal to or after b on `field`.
func compare(a, b *poll.Poll, field string) int {
	cmpTime := func(x, y time.Time) int {
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		}
		return 0
	}
	switch field {
	case "created_at":
		return cmpTime(a.CreatedAt, b.CreatedAt)
	case "start_date":
		return cmpTime(a.StartDate, b.StartDate)
	case "end_date":
		return cmpTime(a.EndDate, b.EndDate)
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	}
	return 0
}

func (repo *pollRepository) QueryPolls(_ context.Context, filter poll.QueryFilter, ordering []core.DBOrdering) ([]poll.Poll, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	matched := make([]*poll.Poll, 0)
	for _, p := range repo.db.table {
		if matches(p, filter) {
			matched = append(matched, p)
		}
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		for _, ord := range ordering {
			c := compare(matched[i], matched[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return repo.db.order[matched[i].PollID] > repo.db.order[matched[j].PollID]
	})

	polls := make([]poll.Poll, 0, len(matched))
	for _, p := range matched {
		polls = append(polls, copyPoll(*p))
	}
	return polls, nil
}

func (repo *pollRepository) UpdatePoll(_ context.Context, p poll.Poll, from poll.Status) (poll.Poll, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	stored, ok := repo.db.table[p.PollID]
	if !ok {
		return poll.Poll{}, poll.ErrNotFound
	}
	if stored.IsLocked() {
		return poll.Poll{}, poll.ErrPollLocked
	}
	if stored.Status != from {
		return poll.Poll{}, poll.ErrPollChanged
	}
	stored.Title = p.Title
	stored.Description = p.Description
	stored.Options = append([]string(nil), p.Options...)
	stored.StartDate = p.StartDate
	stored.EndDate = p.EndDate
	stored.Settings = p.Settings
	stored.Status = p.Status
	stored.UpdatedAt = p.UpdatedAt
	return copyPoll(*stored), nil
}

func (repo *pollRepository) DeletePoll(_ context.Context, pollID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	stored, ok := repo.db.table[pollID]
	if !ok {
		return poll.ErrNotFound
	}
	if len(stored.Votes) > 0 {
		return poll.ErrPollHasVotes
	}
	delete(repo.db.table, pollID)
	delete(repo.db.order, pollID)
	return nil
}

func (repo *pollRepository) AppendVote(_ context.Context, pollID string, v poll.Vote, now time.Time) (poll.Poll, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	stored, ok := repo.db.table[pollID]
	if !ok {
		return poll.Poll{}, poll.ErrNotFound
	}
	if !stored.IsActive(now) {
		return poll.Poll{}, poll.ErrPollInactive
	}
	if !stored.CanVote(v.VoterID) {
		return poll.Poll{}, poll.ErrAlreadyVoted
	}
	stored.Votes = append(stored.Votes, v)
	stored.TotalVotes = len(stored.Votes)
	stored.UpdatedAt = now
	return copyPoll(*stored), nil
}

func (repo *pollRepository) TransitionStatus(_ context.Context, pollID string, from, to poll.Status, now time.Time) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	stored, ok := repo.db.table[pollID]
	if !ok {
		return poll.ErrNotFound
	}
	if stored.Status == from {
		stored.Status = to
		stored.UpdatedAt = now
	}
	return nil
}

func (repo *pollRepository) ActivateDue(_ context.Context, now time.Time) (int64, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int64
	for _, p := range repo.db.table {
		if p.Status == poll.StatusDraft && !p.StartDate.After(now) {
			p.Status = poll.StatusActive
			p.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (repo *pollRepository) CompleteDue(_ context.Context, now time.Time) (int64, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int64
	for _, p := range repo.db.table {
		if p.Status == poll.StatusActive && !p.EndDate.After(now) && p.Settings.AutoCloseOnEndDate {
			p.Status = poll.StatusCompleted
			p.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (repo *pollRepository) PollsEndingBetween(_ context.Context, from, to time.Time) ([]poll.Poll, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	polls := make([]poll.Poll, 0)
	for _, p := range repo.db.table {
		if p.Status == poll.StatusActive && !p.EndDate.Before(from) && !p.EndDate.After(to) {
			polls = append(polls, copyPoll(*p))
		}
	}
	sort.Slice(polls, func(i, j int) bool { return polls[i].EndDate.Before(polls[j].EndDate) })
	return polls, nil
}

func (repo *pollRepository) CountByStatus(_ context.Context) ([]poll.StatusCount, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	byStatus := make(map[poll.Status]*poll.StatusCount)
	for _, p := range repo.db.table {
		c, ok := byStatus[p.Status]
		if !ok {
			c = &poll.StatusCount{Status: p.Status}
			byStatus[p.Status] = c
		}
		c.Count++
		c.TotalVotes += len(p.Votes)
	}

	counts := make([]poll.StatusCount, 0, len(byStatus))
	for _, st := range poll.AllStatuses {
		if c, ok := byStatus[st]; ok {
			counts = append(counts, *c)
		}
	}
	return counts, nil
}
