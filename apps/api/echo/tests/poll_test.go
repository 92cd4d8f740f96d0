package tests

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/bosvoting/apps/api/echo"
	"github.com/trezcool/bosvoting/core/poll"
	"github.com/trezcool/bosvoting/core/user"
	"github.com/trezcool/bosvoting/tests"
)

const pollsPath = "/v1/bos/polls"

var errPollNotFound = httpErr{Error: poll.ErrNotFound.Error()}

func vote(id string, voter user.User, option string, at time.Time) poll.Vote {
	return poll.Vote{
		VoterID:        voter.ID,
		VoterName:      voter.Name,
		VoterRole:      voter.BOSRole(),
		OptionSelected: option,
		VotedAt:        at,
		IPAddress:      "192.0.2.7",
		Comment:        "comment on " + id,
	}
}

func TestPollAPI_Permissions(t *testing.T) {
	f := setup(t)
	testutil.CreatePoll(t, f.pollRepo, f.newPoll("POLL1"))

	tests := []httpTest{
		{name: "create: no token", method: http.MethodPost, path: pollsPath, wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "list: no token", method: http.MethodGet, path: pollsPath, wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "vote: no token", method: http.MethodPost, path: pollsPath + "/POLL1/vote", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "create: member", method: http.MethodPost, path: pollsPath, token: f.memberToken, wantCode: http.StatusForbidden, wantData: marshalObj(t, errForbidden)},
		{name: "statistics: member", method: http.MethodGet, path: pollsPath + "/statistics", token: f.memberToken, wantCode: http.StatusForbidden, wantData: marshalObj(t, errForbidden)},
		{name: "update: member", method: http.MethodPut, path: pollsPath + "/POLL1", token: f.memberToken, wantCode: http.StatusForbidden, wantData: marshalObj(t, errForbidden)},
		{name: "delete: member", method: http.MethodDelete, path: pollsPath + "/POLL1", token: f.memberToken, wantCode: http.StatusForbidden, wantData: marshalObj(t, errForbidden)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.token, []byte("{}"))
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("no BOS role", func(t *testing.T) {
		outsider := testutil.CreateUser(t, f.usrRepo, "Olga Outsider", "olga@bos.test", testPassword, []string{}, true)
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marshalObj(t, errForbidden)}
		rec := f.do(http.MethodGet, pollsPath+"/POLL1", getToken(t, outsider))
		checkCodeAndData(t, tt, rec)
	})
}

func TestPollAPI_Create(t *testing.T) {
	f := setup(t)

	newPollData := func(options []string, start, end time.Time) map[string]interface{} {
		return map[string]interface{}{
			"title":       "Curriculum review",
			"description": "Approve the new curriculum",
			"options":     options,
			"start_date":  start,
			"end_date":    end,
		}
	}

	badRoles := newPollData([]string{"Yes", "No"}, t0, t0.Add(time.Hour))
	badRoles["eligible_voters"] = []string{"admin"}

	tests := []httpTest{
		{
			name:     "missing fields",
			body:     []byte("{}"),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{
				"title":       "this field is required",
				"description": "this field is required",
				"options":     "this field is required",
				"start_date":  "this field is required",
				"end_date":    "this field is required",
			}),
		},
		{
			name:     "repeated and blank options",
			body:     marshalObj(t, newPollData([]string{"A", "A", ""}, t0, t0.Add(time.Hour))),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"options": "at least 2 distinct non-blank options are required"}),
		},
		{
			name:     "end before start",
			body:     marshalObj(t, newPollData([]string{"Yes", "No"}, t0, t0.Add(-time.Hour))),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"end_date": "end date must be after start date"}),
		},
		{
			name:     "unknown voter role",
			body:     marshalObj(t, badRoles),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"eligible_voters": "invalid voter roles"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, pollsPath, f.ctrlToken, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("already started", func(t *testing.T) {
		rec := f.do(http.MethodPost, pollsPath, f.ctrlToken, marshalObj(t, newPollData([]string{" Yes ", "No"}, t0.Add(-time.Hour), t0.Add(time.Hour))))
		checkCode(t, httpTest{wantCode: http.StatusCreated}, rec)

		var p poll.Poll
		unmarshalBody(t, rec, &p)
		assert.True(t, strings.HasPrefix(p.PollID, "POLL"))
		assert.Equal(t, poll.StatusActive, p.Status)
		assert.Equal(t, []string{"Yes", "No"}, p.Options)
		assert.Equal(t, poll.DefaultEligibleVoters, p.EligibleVoters)
		assert.Equal(t, poll.Creator{AdminID: f.ctrl.ID, Name: f.ctrl.Name, Role: user.RoleBOSController}, p.CreatedBy)
		assert.Equal(t, poll.Settings{AutoCloseOnEndDate: true}, p.Settings)
		assert.Equal(t, []poll.Result{{Option: "Yes"}, {Option: "No"}}, p.Results)
		assert.Empty(t, p.Votes)

		stored, err := f.pollRepo.GetPollByID(context.Background(), p.PollID)
		require.NoError(t, err)
		assert.Equal(t, poll.StatusActive, stored.Status)
	})

	t.Run("starts later", func(t *testing.T) {
		data := newPollData([]string{"Yes", "No"}, t0.Add(time.Hour), t0.Add(2*time.Hour))
		data["eligible_voters"] = []string{"BOSController"}
		data["settings"] = map[string]interface{}{"require_comments": true, "auto_close_on_end_date": false}
		rec := f.do(http.MethodPost, pollsPath, f.ctrlToken, marshalObj(t, data))
		checkCode(t, httpTest{wantCode: http.StatusCreated}, rec)

		var p poll.Poll
		unmarshalBody(t, rec, &p)
		assert.Equal(t, poll.StatusDraft, p.Status)
		assert.Equal(t, []string{user.RoleBOSController}, p.EligibleVoters)
		assert.Equal(t, poll.Settings{RequireComments: true}, p.Settings)
	})

	t.Run("eligible voters are notified", func(t *testing.T) {
		sent := f.sentEmails()
		require.Len(t, sent, 2)
		assert.Contains(t, sent[0].Subject, "New BOS Voting Poll: Curriculum review")
		assert.Len(t, sent[0].Bcc, 2)
		assert.Len(t, sent[1].Bcc, 1)
		assert.Equal(t, f.ctrl.Email, sent[1].Bcc[0].Address)
	})
}

func TestPollAPI_Vote(t *testing.T) {
	f := setup(t)

	// Scenario: options Yes/No, voting window [t0-1h, t0+1h)
	yesNo := f.newPoll("POLL1")
	yesNo.Options = []string{"Yes", "No"}
	yesNo.EndDate = t0.Add(time.Hour)
	testutil.CreatePoll(t, f.pollRepo, yesNo)

	ctrlOnly := f.newPoll("POLL2")
	ctrlOnly.EligibleVoters = []string{user.RoleBOSController}
	testutil.CreatePoll(t, f.pollRepo, ctrlOnly)

	notStarted := f.newPoll("POLL3")
	notStarted.Status = poll.StatusDraft
	notStarted.StartDate = t0.Add(time.Hour)
	testutil.CreatePoll(t, f.pollRepo, notStarted)

	withComments := f.newPoll("POLL4")
	withComments.Settings.RequireComments = true
	testutil.CreatePoll(t, f.pollRepo, withComments)

	multiple := f.newPoll("POLL5")
	multiple.AllowMultipleVotes = true
	testutil.CreatePoll(t, f.pollRepo, multiple)

	votePath := func(id string) string { return pollsPath + "/" + id + "/vote" }
	voteData := func(option string, comment ...string) []byte {
		data := map[string]string{"option_selected": option}
		if len(comment) > 0 {
			data["comment"] = comment[0]
		}
		return marshalObj(t, data)
	}
	voted := func(id, option string) []byte {
		return marshalObj(t, VoteResponse{PollID: id, OptionSelected: option, VotedAt: t0})
	}

	tests := []httpTest{
		{name: "valid vote", path: votePath("POLL1"), token: f.memberToken, body: voteData("Yes"), wantCode: http.StatusOK, wantData: voted("POLL1", "Yes")},
		{name: "second vote", path: votePath("POLL1"), token: f.memberToken, body: voteData("No"), wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: poll.ErrAlreadyVoted.Error()})},
		{name: "unknown option", path: votePath("POLL1"), token: f.ctrlToken, body: voteData("Maybe"), wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: poll.ErrInvalidOption.Error()})},
		{name: "missing option", path: votePath("POLL1"), token: f.ctrlToken, body: []byte("{}"), wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"option_selected": "this field is required"})},
		{name: "unknown poll", path: votePath("POLL404"), token: f.ctrlToken, body: voteData("Yes"), wantCode: http.StatusNotFound, wantData: marshalObj(t, errPollNotFound)},
		{name: "not eligible", path: votePath("POLL2"), token: f.memberToken, body: voteData("Yes"), wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: poll.ErrNotEligible.Error()})},
		{name: "eligible controller", path: votePath("POLL2"), token: f.ctrlToken, body: voteData("No"), wantCode: http.StatusOK, wantData: voted("POLL2", "No")},
		{name: "not started", path: votePath("POLL3"), token: f.memberToken, body: voteData("Yes"), wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: poll.ErrPollInactive.Error()})},
		{name: "missing comment", path: votePath("POLL4"), token: f.memberToken, body: voteData("Yes", "   "), wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: poll.ErrCommentRequired.Error()})},
		{name: "with comment", path: votePath("POLL4"), token: f.memberToken, body: voteData("Yes", "agreed"), wantCode: http.StatusOK, wantData: voted("POLL4", "Yes")},
		{name: "multiple votes: first", path: votePath("POLL5"), token: f.memberToken, body: voteData("Yes"), wantCode: http.StatusOK, wantData: voted("POLL5", "Yes")},
		{name: "multiple votes: second", path: votePath("POLL5"), token: f.memberToken, body: voteData("No"), wantCode: http.StatusOK, wantData: voted("POLL5", "No")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("tally", func(t *testing.T) {
		rec := f.do(http.MethodGet, pollsPath+"/POLL1", f.memberToken)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var p poll.Poll
		unmarshalBody(t, rec, &p)
		assert.Equal(t, 1, p.TotalVotes)
		assert.Equal(t, []poll.Result{{Option: "Yes", VoteCount: 1, Percentage: 100}, {Option: "No"}}, p.Results)
		require.Len(t, p.Votes, 1)
		assert.Equal(t, f.member.ID, p.Votes[0].VoterID)
		assert.Equal(t, f.member.Name, p.Votes[0].VoterName)
		assert.Equal(t, user.RoleBOSMember, p.Votes[0].VoterRole)
		assert.Equal(t, "192.0.2.1", p.Votes[0].IPAddress)

		stored, err := f.pollRepo.GetPollByID(context.Background(), "POLL5")
		require.NoError(t, err)
		assert.Equal(t, 2, stored.TotalVotes)
	})

	t.Run("receipts", func(t *testing.T) {
		var receipts int
		for _, msg := range f.sentEmails() {
			if strings.Contains(msg.Subject, "Vote Submitted Successfully") {
				receipts++
			}
		}
		assert.Equal(t, 5, receipts)
	})
}

func TestPollAPI_AutoClose(t *testing.T) {
	f := setup(t)

	// still active in storage though its end date has passed
	ended := f.newPoll("POLL1")
	ended.StartDate = t0.Add(-2 * time.Hour)
	ended.EndDate = t0.Add(-time.Hour)
	ended.Votes = []poll.Vote{vote("POLL1", f.ctrl, "Yes", t0.Add(-90*time.Minute))}
	testutil.CreatePoll(t, f.pollRepo, ended)

	rec := f.do(http.MethodGet, pollsPath+"/POLL1/live-results", f.memberToken)
	checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

	var live LiveResultsResponse
	unmarshalBody(t, rec, &live)
	assert.Equal(t, poll.StatusCompleted, live.Status)
	assert.False(t, live.IsActive)
	require.NotNil(t, live.VotingPeriod.TimeRemaining)
	assert.Equal(t, int64(0), *live.VotingPeriod.TimeRemaining)

	stored, err := f.pollRepo.GetPollByID(context.Background(), "POLL1")
	require.NoError(t, err)
	assert.Equal(t, poll.StatusCompleted, stored.Status)

	tt := httpTest{wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: poll.ErrPollInactive.Error()})}
	rec = f.do(http.MethodPost, pollsPath+"/POLL1/vote", f.memberToken, []byte(`{"option_selected":"Yes"}`))
	checkCodeAndData(t, tt, rec)
}

func TestPollAPI_Update(t *testing.T) {
	f := setup(t)

	draft := f.newPoll("POLL1")
	draft.Status = poll.StatusDraft
	draft.StartDate = t0.Add(time.Hour)
	draft.EndDate = t0.Add(2 * time.Hour)
	testutil.CreatePoll(t, f.pollRepo, draft)

	voted := f.newPoll("POLL2")
	voted.Votes = []poll.Vote{
		vote("POLL2", f.ctrl, "Yes", t0.Add(-50*time.Minute)),
		vote("POLL2", f.member, "No", t0.Add(-40*time.Minute)),
		{VoterID: "u3", VoterName: "Third", VoterRole: user.RoleBOSMember, OptionSelected: "Yes", VotedAt: t0.Add(-30 * time.Minute)},
	}
	testutil.CreatePoll(t, f.pollRepo, voted)

	tests := []httpTest{
		{name: "unknown poll", path: pollsPath + "/POLL404", body: []byte(`{"title":"x"}`), wantCode: http.StatusNotFound, wantData: marshalObj(t, errPollNotFound)},
		{name: "votes cast", path: pollsPath + "/POLL2", body: []byte(`{"options":["A","B"]}`), wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: poll.ErrPollLocked.Error()})},
		{name: "blank title", path: pollsPath + "/POLL1", body: []byte(`{"title":"  "}`), wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"title": "this field may not be blank"})},
		{name: "unknown status", path: pollsPath + "/POLL1", body: []byte(`{"status":"archived"}`), wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"status": "invalid status"})},
		{name: "skipping active", path: pollsPath + "/POLL1", body: []byte(`{"status":"completed"}`), wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"status": "status cannot go back or leave a final state"})},
		{
			name:     "end before start",
			path:     pollsPath + "/POLL1",
			body:     marshalObj(t, map[string]interface{}{"end_date": t0.Add(30 * time.Minute)}),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"end_date": "end date must be after start date"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPut, tt.path, f.ctrlToken, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("valid update", func(t *testing.T) {
		body := []byte(`{"title":" Revised curriculum ","options":["A","B","A"],"settings":{"show_results_before_end":true},"eligible_voters":["bosmembers"]}`)
		rec := f.do(http.MethodPut, pollsPath+"/POLL1", f.ctrlToken, body)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var p poll.Poll
		unmarshalBody(t, rec, &p)
		assert.Equal(t, "Revised curriculum", p.Title)
		assert.Equal(t, []string{"A", "B"}, p.Options)
		assert.Equal(t, poll.Settings{ShowResultsBeforeEnd: true, AutoCloseOnEndDate: true}, p.Settings)
		assert.Equal(t, poll.DefaultEligibleVoters, p.EligibleVoters) // not editable
		assert.Equal(t, poll.StatusDraft, p.Status)
		assert.True(t, t0.Equal(p.UpdatedAt))
	})

	t.Run("cancel", func(t *testing.T) {
		rec := f.do(http.MethodPut, pollsPath+"/POLL1", f.ctrlToken, []byte(`{"status":"cancelled"}`))
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		stored, err := f.pollRepo.GetPollByID(context.Background(), "POLL1")
		require.NoError(t, err)
		assert.Equal(t, poll.StatusCancelled, stored.Status)
	})
}

func TestPollAPI_Delete(t *testing.T) {
	f := setup(t)

	testutil.CreatePoll(t, f.pollRepo, f.newPoll("POLL1"))
	voted := f.newPoll("POLL2")
	voted.Votes = []poll.Vote{vote("POLL2", f.member, "Yes", t0.Add(-time.Minute))}
	testutil.CreatePoll(t, f.pollRepo, voted)

	tests := []httpTest{
		{name: "votes cast", path: pollsPath + "/POLL2", wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: poll.ErrPollHasVotes.Error()})},
		{name: "no votes", path: pollsPath + "/POLL1", wantCode: http.StatusOK, wantData: marshalObj(t, SuccessResponse{Success: "poll deleted"})},
		{name: "already deleted", path: pollsPath + "/POLL1", wantCode: http.StatusNotFound, wantData: marshalObj(t, errPollNotFound)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodDelete, tt.path, f.ctrlToken)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func TestPollAPI_Query(t *testing.T) {
	f := setup(t)
	other := testutil.CreateUser(t, f.usrRepo, "Otto Controller", "otto@bos.test", testPassword, []string{user.RoleBOSController}, true)

	budget := f.newPoll("POLL1")
	budget.Title = "Budget"
	budget.CreatedAt = t0.Add(-3 * time.Hour)
	testutil.CreatePoll(t, f.pollRepo, budget)

	charter := f.newPoll("POLL2")
	charter.Title = "Charter"
	charter.Status = poll.StatusDraft
	charter.StartDate = t0.Add(time.Hour)
	charter.CreatedBy.AdminID = other.ID
	charter.CreatedAt = t0.Add(-time.Hour)
	testutil.CreatePoll(t, f.pollRepo, charter)

	audit := f.newPoll("POLL3")
	audit.Title = "Audit"
	audit.CreatedAt = t0.Add(-2 * time.Hour)
	testutil.CreatePoll(t, f.pollRepo, audit)

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{name: "newest first", query: "", wantIDs: []string{"POLL2", "POLL3", "POLL1"}},
		{name: "by title", query: "?ordering=title", wantIDs: []string{"POLL3", "POLL1", "POLL2"}},
		{name: "by title desc", query: "?ordering=-title", wantIDs: []string{"POLL2", "POLL1", "POLL3"}},
		{name: "unknown ordering ignored", query: "?ordering=votes", wantIDs: []string{"POLL2", "POLL3", "POLL1"}},
		{name: "status", query: "?status=Draft", wantIDs: []string{"POLL2"}},
		{name: "created_by", query: "?created_by=" + f.ctrl.ID, wantIDs: []string{"POLL3", "POLL1"}},
		{name: "no match", query: "?status=cancelled", wantIDs: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, pollsPath+tt.query, f.memberToken)
			checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

			var polls []poll.Poll
			unmarshalBody(t, rec, &polls)
			ids := make([]string, 0, len(polls))
			for _, p := range polls {
				ids = append(ids, p.PollID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	t.Run("invalid status", func(t *testing.T) {
		tt := httpTest{wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"status": "invalid status"})}
		rec := f.do(http.MethodGet, pollsPath+"?status=archived", f.memberToken)
		checkCodeAndData(t, tt, rec)
	})
}

func TestPollAPI_Active(t *testing.T) {
	f := setup(t)

	open := f.newPoll("POLL1")
	open.Votes = []poll.Vote{vote("POLL1", f.member, "Yes", t0.Add(-time.Minute))}
	open.CreatedAt = t0.Add(-3 * time.Hour)
	testutil.CreatePoll(t, f.pollRepo, open)

	ctrlOnly := f.newPoll("POLL2")
	ctrlOnly.EligibleVoters = []string{user.RoleBOSController}
	testutil.CreatePoll(t, f.pollRepo, ctrlOnly)

	draft := f.newPoll("POLL3")
	draft.Status = poll.StatusDraft
	draft.StartDate = t0.Add(time.Hour)
	testutil.CreatePoll(t, f.pollRepo, draft)

	overdue := f.newPoll("POLL4")
	overdue.StartDate = t0.Add(-2 * time.Hour)
	overdue.EndDate = t0.Add(-time.Hour)
	testutil.CreatePoll(t, f.pollRepo, overdue)

	type activePoll struct {
		PollID       string `json:"poll_id"`
		UserHasVoted bool   `json:"user_has_voted"`
		CanVote      bool   `json:"can_vote"`
	}

	tests := []struct {
		name  string
		token string
		want  []activePoll
	}{
		{
			name:  "member",
			token: f.memberToken,
			want:  []activePoll{{PollID: "POLL1", UserHasVoted: true, CanVote: false}},
		},
		{
			name:  "controller",
			token: f.ctrlToken,
			want: []activePoll{
				{PollID: "POLL2", UserHasVoted: false, CanVote: true},
				{PollID: "POLL1", UserHasVoted: false, CanVote: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, pollsPath+"/active", tt.token)
			checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

			var got []activePoll
			unmarshalBody(t, rec, &got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPollAPI_DualRoleVoter(t *testing.T) {
	f := setup(t)

	membersOnly := f.newPoll("POLL1")
	membersOnly.EligibleVoters = []string{user.RoleBOSMember}
	testutil.CreatePoll(t, f.pollRepo, membersOnly)

	both := testutil.CreateUser(t, f.usrRepo, "Dana Dual", "dana@bos.test", testPassword, user.AllRoles, true)
	token := getToken(t, both)

	rec := f.do(http.MethodGet, pollsPath+"/active", token)
	checkCode(t, httpTest{wantCode: http.StatusOK}, rec)
	var active []struct {
		PollID string `json:"poll_id"`
	}
	unmarshalBody(t, rec, &active)
	require.Len(t, active, 1)
	assert.Equal(t, "POLL1", active[0].PollID)

	rec = f.do(http.MethodPost, pollsPath+"/POLL1/vote", token, marshalObj(t, map[string]string{"option_selected": "Yes"}))
	checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

	rec = f.do(http.MethodPost, pollsPath+"/POLL1/vote", f.ctrlToken, marshalObj(t, map[string]string{"option_selected": "No"}))
	checkCode(t, httpTest{wantCode: http.StatusForbidden}, rec)

	stored, err := f.pollRepo.GetPollByID(context.Background(), "POLL1")
	require.NoError(t, err)
	require.Len(t, stored.Votes, 1)
	assert.Equal(t, user.RoleBOSMember, stored.Votes[0].VoterRole)
}

func TestPollAPI_Statistics(t *testing.T) {
	f := setup(t)

	t.Run("no polls", func(t *testing.T) {
		tt := httpTest{
			wantCode: http.StatusOK,
			wantData: marshalObj(t, poll.Statistics{StatusBreakdown: []poll.StatusCount{}}),
		}
		rec := f.do(http.MethodGet, pollsPath+"/statistics", f.ctrlToken)
		checkCodeAndData(t, tt, rec)
	})

	withVotes := f.newPoll("POLL1")
	withVotes.Votes = []poll.Vote{
		vote("POLL1", f.member, "Yes", t0.Add(-2*time.Minute)),
		vote("POLL1", f.ctrl, "No", t0.Add(-time.Minute)),
	}
	testutil.CreatePoll(t, f.pollRepo, withVotes)
	testutil.CreatePoll(t, f.pollRepo, f.newPoll("POLL2"))
	completed := f.newPoll("POLL3")
	completed.Status = poll.StatusCompleted
	testutil.CreatePoll(t, f.pollRepo, completed)
	draft := f.newPoll("POLL4")
	draft.Status = poll.StatusDraft
	testutil.CreatePoll(t, f.pollRepo, draft)

	t.Run("polls by status", func(t *testing.T) {
		tt := httpTest{
			wantCode: http.StatusOK,
			wantData: marshalObj(t, poll.Statistics{
				TotalPolls:     4,
				ActivePolls:    2,
				CompletedPolls: 1,
				StatusBreakdown: []poll.StatusCount{
					{Status: poll.StatusDraft, Count: 1},
					{Status: poll.StatusActive, Count: 2, TotalVotes: 2},
					{Status: poll.StatusCompleted, Count: 1},
				},
			}),
		}
		rec := f.do(http.MethodGet, pollsPath+"/statistics", f.ctrlToken)
		checkCodeAndData(t, tt, rec)
	})
}

func TestPollAPI_Results(t *testing.T) {
	f := setup(t)

	hidden := f.newPoll("POLL1")
	hidden.Votes = []poll.Vote{vote("POLL1", f.member, "Yes", t0.Add(-time.Minute))}
	testutil.CreatePoll(t, f.pollRepo, hidden)

	shown := f.newPoll("POLL2")
	shown.Settings.ShowResultsBeforeEnd = true
	shown.Votes = []poll.Vote{
		vote("POLL2", f.member, "Yes", t0.Add(-2*time.Minute)),
		vote("POLL2", f.ctrl, "No", t0.Add(-time.Minute)),
	}
	testutil.CreatePoll(t, f.pollRepo, shown)

	anonymous := f.newPoll("POLL3")
	anonymous.IsAnonymous = true
	anonymous.Status = poll.StatusCompleted
	anonymous.Votes = []poll.Vote{vote("POLL3", f.member, "Abstain", t0.Add(-time.Minute))}
	anonymous.Votes[0].VoterName = poll.AnonymousVoterName
	testutil.CreatePoll(t, f.pollRepo, anonymous)

	t.Run("hidden while active", func(t *testing.T) {
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: poll.ErrResultsHidden.Error()})}
		rec := f.do(http.MethodGet, pollsPath+"/POLL1/results", f.memberToken)
		checkCodeAndData(t, tt, rec)
	})

	t.Run("shown before end", func(t *testing.T) {
		rec := f.do(http.MethodGet, pollsPath+"/POLL2/results", f.memberToken)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var res ResultsResponse
		unmarshalBody(t, rec, &res)
		assert.Equal(t, 2, res.TotalVotes)
		assert.Equal(t, []poll.Result{
			{Option: "Yes", VoteCount: 1, Percentage: 50},
			{Option: "No", VoteCount: 1, Percentage: 50},
			{Option: "Abstain"},
		}, res.Results)
		assert.True(t, t0.Add(24*time.Hour).Equal(res.VotingPeriod.EndDate))
		assert.Nil(t, res.VotingPeriod.TimeRemaining)
		require.Len(t, res.Votes, 2)
		assert.Equal(t, f.member.Name, res.Votes[0].VoterName)
		require.NotNil(t, res.Votes[0].Comment)
		assert.Equal(t, "comment on POLL2", *res.Votes[0].Comment)
	})

	t.Run("anonymous", func(t *testing.T) {
		rec := f.do(http.MethodGet, pollsPath+"/POLL3/results", f.memberToken)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var res map[string]interface{}
		unmarshalBody(t, rec, &res)
		assert.NotContains(t, res, "votes")
		assert.EqualValues(t, 1, res["total_votes"])
	})

	t.Run("live results", func(t *testing.T) {
		rec := f.do(http.MethodGet, pollsPath+"/POLL2/live-results", f.memberToken)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var live LiveResultsResponse
		unmarshalBody(t, rec, &live)
		assert.True(t, live.IsActive)
		assert.Equal(t, poll.StatusActive, live.Status)
		require.NotNil(t, live.VotingPeriod.TimeRemaining)
		assert.Equal(t, (24 * time.Hour).Milliseconds(), *live.VotingPeriod.TimeRemaining)
		require.Len(t, live.RecentVotes, 2)
		assert.Equal(t, f.ctrl.Name, live.RecentVotes[0].VoterName) // newest first
		assert.Nil(t, live.RecentVotes[0].Comment)
	})

	t.Run("live results of an anonymous poll", func(t *testing.T) {
		rec := f.do(http.MethodGet, pollsPath+"/POLL3/live-results", f.memberToken)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var res map[string]interface{}
		unmarshalBody(t, rec, &res)
		assert.NotContains(t, res, "recent_votes")
	})
}

func TestPollAPI_AnonymousRedaction(t *testing.T) {
	f := setup(t)

	anonymous := f.newPoll("POLL1")
	anonymous.IsAnonymous = true
	anonymous.Votes = []poll.Vote{vote("POLL1", f.member, "Yes", t0.Add(-time.Minute))}
	anonymous.Votes[0].VoterName = poll.AnonymousVoterName
	testutil.CreatePoll(t, f.pollRepo, anonymous)

	paths := []string{pollsPath + "/POLL1", pollsPath}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := f.do(http.MethodGet, path, f.ctrlToken)
			checkCode(t, httpTest{wantCode: http.StatusOK}, rec)
			body := rec.Body.String()
			assert.NotContains(t, body, f.member.ID)
			assert.NotContains(t, body, "192.0.2.7")
			assert.Contains(t, body, poll.AnonymousVoterName)
		})
	}

	t.Run("vote", func(t *testing.T) {
		rec := f.do(http.MethodPost, pollsPath+"/POLL1/vote", f.ctrlToken, []byte(`{"option_selected":"No"}`))
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		stored, err := f.pollRepo.GetPollByID(context.Background(), "POLL1")
		require.NoError(t, err)
		require.Len(t, stored.Votes, 2)
		assert.Equal(t, f.ctrl.ID, stored.Votes[1].VoterID) // kept in storage for duplicate checks
		assert.Equal(t, poll.AnonymousVoterName, stored.Votes[1].VoterName)
	})
}
