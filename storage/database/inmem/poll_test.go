package inmemdb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/poll"
)

var (
	ctx = context.Background()
	t0  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newPoll(id string, status poll.Status, start, end time.Time) poll.Poll {
	return poll.Poll{
		PollID:         id,
		Title:          "Poll " + id,
		Options:        []string{"Yes", "No"},
		CreatedBy:      poll.Creator{AdminID: "admin"},
		EligibleVoters: []string{"boscontroller", "bosmembers"},
		StartDate:      start,
		EndDate:        end,
		Settings:       poll.Settings{AutoCloseOnEndDate: true},
		Status:         status,
		Votes:          []poll.Vote{},
		CreatedAt:      start,
		UpdatedAt:      start,
	}
}

func TestPollRepository_CreatePoll(t *testing.T) {
	repo := NewPollRepository(Open())

	_, err := repo.CreatePoll(ctx, newPoll("P1", poll.StatusDraft, t0, t0.Add(time.Hour)))
	require.NoError(t, err)

	_, err = repo.CreatePoll(ctx, newPoll("P1", poll.StatusDraft, t0, t0.Add(time.Hour)))
	assert.Equal(t, poll.ErrPollIDExists, err)

	_, err = repo.GetPollByID(ctx, "nope")
	assert.Equal(t, poll.ErrNotFound, err)
}

func TestPollRepository_AppendVote(t *testing.T) {
	repo := NewPollRepository(Open())
	_, err := repo.CreatePoll(ctx, newPoll("P1", poll.StatusActive, t0, t0.Add(time.Hour)))
	require.NoError(t, err)

	now := t0.Add(time.Minute)
	vote := poll.Vote{VoterID: "u1", OptionSelected: "Yes", VotedAt: now}

	p, err := repo.AppendVote(ctx, "P1", vote, now)
	require.NoError(t, err)
	assert.Equal(t, 1, p.TotalVotes)

	_, err = repo.AppendVote(ctx, "P1", vote, now)
	assert.Equal(t, poll.ErrAlreadyVoted, err)

	_, err = repo.AppendVote(ctx, "P1", poll.Vote{VoterID: "u2"}, t0.Add(time.Hour))
	assert.Equal(t, poll.ErrPollInactive, err)

	_, err = repo.AppendVote(ctx, "nope", vote, now)
	assert.Equal(t, poll.ErrNotFound, err)
}

func TestPollRepository_AppendVote_concurrent(t *testing.T) {
	repo := NewPollRepository(Open())
	_, err := repo.CreatePoll(ctx, newPoll("P1", poll.StatusActive, t0, t0.Add(time.Hour)))
	require.NoError(t, err)

	now := t0.Add(time.Minute)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every goroutine votes twice as the same voter
			voter := fmt.Sprintf("u%d", i%10)
			if _, err := repo.AppendVote(ctx, "P1", poll.Vote{VoterID: voter, OptionSelected: "No"}, now); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	p, err := repo.GetPollByID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, accepted)
	assert.Len(t, p.Votes, 10)
	assert.Equal(t, 10, p.TotalVotes)
}

func TestPollRepository_UpdatePoll(t *testing.T) {
	repo := NewPollRepository(Open())
	p, err := repo.CreatePoll(ctx, newPoll("P1", poll.StatusActive, t0, t0.Add(time.Hour)))
	require.NoError(t, err)

	p.Title = "Renamed"
	updated, err := repo.UpdatePoll(ctx, p, poll.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)

	// the stored status moved since it was read
	p.Title = "Stale"
	_, err = repo.UpdatePoll(ctx, p, poll.StatusDraft)
	assert.Equal(t, poll.ErrPollChanged, err)
	stored, err := repo.GetPollByID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Title)

	_, err = repo.AppendVote(ctx, "P1", poll.Vote{VoterID: "u1", OptionSelected: "Yes"}, t0.Add(time.Minute))
	require.NoError(t, err)

	p.Title = "Locked"
	_, err = repo.UpdatePoll(ctx, p, poll.StatusActive)
	assert.Equal(t, poll.ErrPollLocked, err)

	p.PollID = "nope"
	_, err = repo.UpdatePoll(ctx, p, poll.StatusActive)
	assert.Equal(t, poll.ErrNotFound, err)
}

func TestPollRepository_DeletePoll(t *testing.T) {
	repo := NewPollRepository(Open())
	for _, id := range []string{"P1", "P2"} {
		_, err := repo.CreatePoll(ctx, newPoll(id, poll.StatusActive, t0, t0.Add(time.Hour)))
		require.NoError(t, err)
	}
	_, err := repo.AppendVote(ctx, "P2", poll.Vote{VoterID: "u1", OptionSelected: "Yes"}, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.NoError(t, repo.DeletePoll(ctx, "P1"))
	assert.Equal(t, poll.ErrNotFound, repo.DeletePoll(ctx, "P1"))
	assert.Equal(t, poll.ErrPollHasVotes, repo.DeletePoll(ctx, "P2"))
}

func TestPollRepository_QueryPolls(t *testing.T) {
	repo := NewPollRepository(Open())
	fixtures := []poll.Poll{
		newPoll("P1", poll.StatusDraft, t0, t0.Add(time.Hour)),
		newPoll("P2", poll.StatusActive, t0.Add(time.Minute), t0.Add(2*time.Hour)),
		newPoll("P3", poll.StatusActive, t0.Add(2*time.Minute), t0.Add(30*time.Minute)),
	}
	fixtures[2].EligibleVoters = []string{"boscontroller"}
	fixtures[2].CreatedBy.AdminID = "other"
	for _, p := range fixtures {
		_, err := repo.CreatePoll(ctx, p)
		require.NoError(t, err)
	}

	ids := func(polls []poll.Poll) []string {
		res := make([]string, 0, len(polls))
		for _, p := range polls {
			res = append(res, p.PollID)
		}
		return res
	}

	tests := []struct {
		name     string
		filter   poll.QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{name: "all newest first", want: []string{"P3", "P2", "P1"}},
		{name: "by status", filter: poll.QueryFilter{Status: poll.StatusActive}, want: []string{"P3", "P2"}},
		{name: "by creator", filter: poll.QueryFilter{CreatedBy: "other"}, want: []string{"P3"}},
		{name: "by role", filter: poll.QueryFilter{EligibleRoles: []string{"bosmembers"}}, want: []string{"P2", "P1"}},
		{name: "by any role", filter: poll.QueryFilter{EligibleRoles: []string{"bosmembers", "boscontroller"}}, want: []string{"P3", "P2", "P1"}},
		{name: "open at", filter: poll.QueryFilter{OpenAt: t0.Add(45 * time.Minute)}, want: []string{"P2", "P1"}},
		{
			name:     "by end date",
			ordering: []core.DBOrdering{{Field: "end_date", Ascending: true}},
			want:     []string{"P3", "P1", "P2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			polls, err := repo.QueryPolls(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(polls))
		})
	}
}

func TestPollRepository_sweeps(t *testing.T) {
	repo := NewPollRepository(Open())
	noAutoClose := newPoll("P4", poll.StatusActive, t0, t0.Add(time.Hour))
	noAutoClose.Settings.AutoCloseOnEndDate = false
	for _, p := range []poll.Poll{
		newPoll("P1", poll.StatusDraft, t0, t0.Add(time.Hour)),
		newPoll("P2", poll.StatusDraft, t0.Add(2*time.Hour), t0.Add(3*time.Hour)),
		newPoll("P3", poll.StatusActive, t0.Add(-time.Hour), t0.Add(time.Minute)),
		noAutoClose,
	} {
		_, err := repo.CreatePoll(ctx, p)
		require.NoError(t, err)
	}

	ending, err := repo.PollsEndingBetween(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	if assert.Len(t, ending, 2) {
		assert.Equal(t, "P3", ending[0].PollID)
		assert.Equal(t, "P4", ending[1].PollID)
	}

	now := t0.Add(time.Hour)
	n, err := repo.ActivateDue(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = repo.CompleteDue(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n) // P1 (just activated) and P3

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []poll.StatusCount{
		{Status: poll.StatusDraft, Count: 1},
		{Status: poll.StatusActive, Count: 1},
		{Status: poll.StatusCompleted, Count: 2},
	}, counts)
}

func TestPollRepository_TransitionStatus(t *testing.T) {
	repo := NewPollRepository(Open())
	_, err := repo.CreatePoll(ctx, newPoll("P1", poll.StatusDraft, t0, t0.Add(time.Hour)))
	require.NoError(t, err)

	// stale `from`: no-op
	require.NoError(t, repo.TransitionStatus(ctx, "P1", poll.StatusActive, poll.StatusCompleted, t0))
	p, _ := repo.GetPollByID(ctx, "P1")
	assert.Equal(t, poll.StatusDraft, p.Status)

	require.NoError(t, repo.TransitionStatus(ctx, "P1", poll.StatusDraft, poll.StatusActive, t0))
	p, _ = repo.GetPollByID(ctx, "P1")
	assert.Equal(t, poll.StatusActive, p.Status)

	assert.Equal(t, poll.ErrNotFound, repo.TransitionStatus(ctx, "nope", poll.StatusDraft, poll.StatusActive, t0))
}
