package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bosvoting/core/poll"
	"github.com/trezcool/bosvoting/core/user"
)

// number of votes returned by the live results
const recentVotesLimit = 5

type pollApi struct {
	svc      *poll.Service
	validate *validator.Validate
}

func registerPollAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *poll.Service, validate *validator.Validate) {
	api := pollApi{
		svc:      svc,
		validate: validate,
	}

	bos := roleMiddleware(user.AllRoles...)
	controller := roleMiddleware(user.RoleBOSController)

	pg := g.Group("/bos/polls", jwt)
	pg.POST("", api.create, controller)
	pg.GET("", api.query, bos)
	pg.GET("/active", api.active, bos)
	pg.GET("/statistics", api.statistics, controller)

	// detail endpoints
	dg := pg.Group("/:poll_id")
	dg.GET("", api.retrieve, bos)
	dg.PUT("", api.update, controller)
	dg.DELETE("", api.destroy, controller)
	dg.POST("/vote", api.vote, bos)
	dg.GET("/results", api.results, bos)
	dg.GET("/live-results", api.liveResults, bos)
}

// Handlers

func (api *pollApi) create(ctx echo.Context) error {
	var data poll.NewPoll
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPoll")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	creator, err := getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	p, err := api.svc.Create(ctx.Request().Context(), data, creator)
	if err != nil {
		return errors.Wrap(err, "creating poll")
	}
	return ctx.JSON(http.StatusCreated, p.Redacted())
}

func (api *pollApi) query(ctx echo.Context) error {
	filter, err := bindPollFilter(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx, pollOrderingFields)

	polls, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying polls")
	}
	res := make([]poll.Poll, 0, len(polls))
	for _, p := range polls {
		res = append(res, p.Redacted())
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *pollApi) active(ctx echo.Context) error {
	voter, err := getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	polls, err := api.svc.ActiveFor(ctx.Request().Context(), voter)
	if err != nil {
		return errors.Wrap(err, "querying active polls")
	}
	for i := range polls {
		polls[i].Poll = polls[i].Poll.Redacted()
	}
	return ctx.JSON(http.StatusOK, polls)
}

func (api *pollApi) statistics(ctx echo.Context) error {
	stats, err := api.svc.Statistics(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing statistics")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *pollApi) retrieve(ctx echo.Context) error {
	p, err := api.svc.Get(ctx.Request().Context(), ctx.Param("poll_id"))
	if err != nil {
		return errors.Wrap(err, "retrieving poll")
	}
	return ctx.JSON(http.StatusOK, p.Redacted())
}

func (api *pollApi) update(ctx echo.Context) error {
	var data poll.UpdatePoll
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePoll")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.Update(ctx.Request().Context(), ctx.Param("poll_id"), data)
	if err != nil {
		return errors.Wrap(err, "updating poll")
	}
	return ctx.JSON(http.StatusOK, p.Redacted())
}

func (api *pollApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("poll_id")); err != nil {
		return errors.Wrap(err, "deleting poll")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "poll deleted"})
}

func (api *pollApi) vote(ctx echo.Context) error {
	var data poll.VoteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VoteRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	voter, err := getContextCaller(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context caller")
	}
	v, err := api.svc.CastVote(ctx.Request().Context(), ctx.Param("poll_id"), data, voter, ctx.RealIP())
	if err != nil {
		return errors.Wrap(err, "casting vote")
	}
	return ctx.JSON(http.StatusOK, VoteResponse{
		PollID:         ctx.Param("poll_id"),
		OptionSelected: v.OptionSelected,
		VotedAt:        v.VotedAt,
	})
}

func (api *pollApi) results(ctx echo.Context) error {
	p, err := api.svc.Results(ctx.Request().Context(), ctx.Param("poll_id"))
	if err != nil {
		return errors.Wrap(err, "computing results")
	}

	res := ResultsResponse{
		PollID:       p.PollID,
		Title:        p.Title,
		Status:       p.Status,
		TotalVotes:   p.TotalVotes,
		Results:      p.Results,
		VotingPeriod: VotingPeriod{StartDate: p.StartDate, EndDate: p.EndDate},
		CreatedBy:    p.CreatedBy,
	}
	if !p.IsAnonymous {
		res.Votes = make([]VoteView, 0, len(p.Votes))
		for _, v := range p.Votes {
			res.Votes = append(res.Votes, newVoteView(v, true))
		}
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *pollApi) liveResults(ctx echo.Context) error {
	p, err := api.svc.LiveResults(ctx.Request().Context(), ctx.Param("poll_id"))
	if err != nil {
		return errors.Wrap(err, "computing live results")
	}

	now := api.svc.Now()
	remaining := p.TimeRemaining(now).Milliseconds()
	res := LiveResultsResponse{
		PollID:      p.PollID,
		Title:       p.Title,
		Description: p.Description,
		Status:      p.Status,
		IsActive:    p.IsActive(now),
		TotalVotes:  p.TotalVotes,
		Results:     p.Results,
		VotingPeriod: VotingPeriod{
			StartDate:     p.StartDate,
			EndDate:       p.EndDate,
			TimeRemaining: &remaining,
		},
		Settings: LiveSettings{
			ShowResultsBeforeEnd: p.Settings.ShowResultsBeforeEnd,
			IsAnonymous:          p.IsAnonymous,
		},
		CreatedBy:   p.CreatedBy,
		LastUpdated: p.UpdatedAt,
	}
	if !p.IsAnonymous {
		recent := p.RecentVotes(recentVotesLimit)
		res.RecentVotes = make([]VoteView, 0, len(recent))
		for _, v := range recent {
			res.RecentVotes = append(res.RecentVotes, newVoteView(v, false))
		}
	}
	return ctx.JSON(http.StatusOK, res)
}

type (
	VoteResponse struct {
		PollID         string    `json:"poll_id"`
		OptionSelected string    `json:"option_selected"`
		VotedAt        time.Time `json:"voted_at"`
	}

	VotingPeriod struct {
		StartDate     time.Time `json:"start_date"`
		EndDate       time.Time `json:"end_date"`
		TimeRemaining *int64    `json:"time_remaining,omitempty"` // ms
	}

	// VoteView is a vote stripped of its voter id and ip address.
	VoteView struct {
		VoterName      string    `json:"voter_name"`
		VoterRole      string    `json:"voter_role"`
		OptionSelected string    `json:"option_selected"`
		VotedAt        time.Time `json:"voted_at"`
		Comment        *string   `json:"comment,omitempty"`
	}

	ResultsResponse struct {
		PollID       string        `json:"poll_id"`
		Title        string        `json:"title"`
		Status       poll.Status   `json:"status"`
		TotalVotes   int           `json:"total_votes"`
		Results      []poll.Result `json:"results"`
		VotingPeriod VotingPeriod  `json:"voting_period"`
		CreatedBy    poll.Creator  `json:"created_by"`
		Votes        []VoteView    `json:"votes,omitempty"`
	}

	LiveSettings struct {
		ShowResultsBeforeEnd bool `json:"show_results_before_end"`
		IsAnonymous          bool `json:"is_anonymous"`
	}

	LiveResultsResponse struct {
		PollID       string        `json:"poll_id"`
		Title        string        `json:"title"`
		Description  string        `json:"description"`
		Status       poll.Status   `json:"status"`
		IsActive     bool          `json:"is_active"`
		TotalVotes   int           `json:"total_votes"`
		Results      []poll.Result `json:"results"`
		VotingPeriod VotingPeriod  `json:"voting_period"`
		Settings     LiveSettings  `json:"settings"`
		CreatedBy    poll.Creator  `json:"created_by"`
		LastUpdated  time.Time     `json:"last_updated"`
		RecentVotes  []VoteView    `json:"recent_votes,omitempty"`
	}
)

func newVoteView(v poll.Vote, withComment bool) VoteView {
	view := VoteView{
		VoterName:      v.VoterName,
		VoterRole:      v.VoterRole,
		OptionSelected: v.OptionSelected,
		VotedAt:        v.VotedAt,
	}
	if withComment {
		comment := v.Comment
		view.Comment = &comment
	}
	return view
}
