package sqlxrepos

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/poll"
)

// jsonb maps a JSONB column to a Go value.
type jsonb struct {
	v interface{}
}

func (j jsonb) Value() (driver.Value, error) {
	b, err := json.Marshal(j.v)
	return string(b), err
}

func (j *jsonb) Scan(src interface{}) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, j.v)
	case string:
		return json.Unmarshal([]byte(data), j.v)
	case nil:
		return nil
	}
	return errors.Errorf("jsonb: unsupported type %T", src)
}

type pollRow struct {
	PK                   int64          `db:"id"`
	PollID               string         `db:"poll_id"`
	Title                string         `db:"title"`
	Description          null.String    `db:"description"`
	Options              pq.StringArray `db:"options"`
	CreatedBy            poll.Creator   `db:"-"`
	EligibleVoters       pq.StringArray `db:"eligible_voters"`
	StartDate            time.Time      `db:"start_date"`
	EndDate              time.Time      `db:"end_date"`
	IsAnonymous          bool           `db:"is_anonymous"`
	AllowMultipleVotes   bool           `db:"allow_multiple_votes"`
	RequireComments      bool           `db:"require_comments"`
	ShowResultsBeforeEnd bool           `db:"show_results_before_end"`
	AutoCloseOnEndDate   bool           `db:"auto_close_on_end_date"`
	Status               string         `db:"status"`
	Votes                []poll.Vote    `db:"-"`
	TotalVotes           int            `db:"total_votes"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

const pollColumns = `id, poll_id, title, description, options, created_by, eligible_voters,
	start_date, end_date, is_anonymous, allow_multiple_votes, require_comments,
	show_results_before_end, auto_close_on_end_date, status, votes, total_votes, created_at, updated_at`

// dest lists the scan targets in pollColumns order.
func (row *pollRow) dest() []interface{} {
	return []interface{}{
		&row.PK, &row.PollID, &row.Title, &row.Description, &row.Options, &jsonb{&row.CreatedBy},
		&row.EligibleVoters, &row.StartDate, &row.EndDate, &row.IsAnonymous, &row.AllowMultipleVotes,
		&row.RequireComments, &row.ShowResultsBeforeEnd, &row.AutoCloseOnEndDate, &row.Status,
		&jsonb{&row.Votes}, &row.TotalVotes, &row.CreatedAt, &row.UpdatedAt,
	}
}

func (row pollRow) toPoll() poll.Poll {
	votes := row.Votes
	if votes == nil {
		votes = []poll.Vote{}
	}
	for i := range votes {
		votes[i].VotedAt = votes[i].VotedAt.UTC()
	}
	return poll.Poll{
		PollID:             row.PollID,
		Title:              row.Title,
		Description:        row.Description.String,
		Options:            []string(row.Options),
		CreatedBy:          row.CreatedBy,
		EligibleVoters:     []string(row.EligibleVoters),
		StartDate:          row.StartDate.UTC(),
		EndDate:            row.EndDate.UTC(),
		IsAnonymous:        row.IsAnonymous,
		AllowMultipleVotes: row.AllowMultipleVotes,
		Settings: poll.Settings{
			RequireComments:      row.RequireComments,
			ShowResultsBeforeEnd: row.ShowResultsBeforeEnd,
			AutoCloseOnEndDate:   row.AutoCloseOnEndDate,
		},
		Status:     poll.Status(row.Status),
		Votes:      votes,
		TotalVotes: row.TotalVotes,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPoll(s scanner) (poll.Poll, error) {
	var row pollRow
	if err := s.Scan(row.dest()...); err != nil {
		return poll.Poll{}, err
	}
	return row.toPoll(), nil
}

// sortableColumns guards ORDER BY against anything but known columns.
var sortableColumns = map[string]bool{
	"created_at": true,
	"start_date": true,
	"end_date":   true,
	"title":      true,
	"status":     true,
}

// buildPollQuery translates a QueryFilter and ordering into a WHERE ... ORDER BY clause and its arguments.
func buildPollQuery(filter poll.QueryFilter, ordering []core.DBOrdering) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Status != "" {
		conds = append(conds, "status = "+arg(string(filter.Status)))
	}
	if filter.CreatedBy != "" {
		conds = append(conds, "created_by ->> 'admin_id' = "+arg(filter.CreatedBy))
	}
	if len(filter.EligibleRoles) > 0 {
		conds = append(conds, "eligible_voters && "+arg(pq.StringArray(filter.EligibleRoles)))
	}
	if !filter.OpenAt.IsZero() {
		at := arg(filter.OpenAt)
		conds = append(conds, "start_date <= "+at, "end_date > "+at)
	}

	var clause strings.Builder
	if len(conds) > 0 {
		clause.WriteString(" WHERE ")
		clause.WriteString(strings.Join(conds, " AND "))
	}

	orderBy := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		if sortableColumns[ord.Field] {
			orderBy = append(orderBy, ord.String())
		}
	}
	if len(orderBy) == 0 {
		orderBy = append(orderBy, "created_at DESC")
	}
	orderBy = append(orderBy, "id DESC")
	clause.WriteString(" ORDER BY ")
	clause.WriteString(strings.Join(orderBy, ", "))
	return clause.String(), args
}

type pollRepository struct {
	db *sqlx.DB
}

var _ poll.Repository = (*pollRepository)(nil) // interface compliance check

func NewPollRepository(db *sqlx.DB) poll.Repository {
	return &pollRepository{db: db}
}

func (repo *pollRepository) CreatePoll(ctx context.Context, p poll.Poll) (poll.Poll, error) {
	q := `INSERT INTO polls (poll_id, title, description, options, created_by, eligible_voters,
			start_date, end_date, is_anonymous, allow_multiple_votes, require_comments,
			show_results_before_end, auto_close_on_end_date, status, votes, total_votes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING ` + pollColumns
	votes := p.Votes
	if votes == nil {
		votes = []poll.Vote{}
	}
	created, err := scanPoll(repo.db.QueryRowContext(ctx, q,
		p.PollID, p.Title, null.NewString(p.Description, p.Description != ""), pq.StringArray(p.Options),
		jsonb{p.CreatedBy}, pq.StringArray(p.EligibleVoters), p.StartDate, p.EndDate,
		p.IsAnonymous, p.AllowMultipleVotes, p.Settings.RequireComments,
		p.Settings.ShowResultsBeforeEnd, p.Settings.AutoCloseOnEndDate, string(p.Status),
		jsonb{votes}, len(votes), p.CreatedAt, p.UpdatedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return poll.Poll{}, poll.ErrPollIDExists
		}
		return poll.Poll{}, errors.Wrap(err, "inserting poll")
	}
	return created, nil
}

func (repo *pollRepository) GetPollByID(ctx context.Context, pollID string) (poll.Poll, error) {
	p, err := scanPoll(repo.db.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM polls WHERE poll_id = $1`, pollID))
	if err == sql.ErrNoRows {
		return poll.Poll{}, poll.ErrNotFound
	}
	if err != nil {
		return poll.Poll{}, errors.Wrap(err, "selecting poll")
	}
	return p, nil
}

func (repo *pollRepository) selectPolls(ctx context.Context, q string, args ...interface{}) ([]poll.Poll, error) {
	rows, err := repo.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	polls := make([]poll.Poll, 0)
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

func (repo *pollRepository) QueryPolls(ctx context.Context, filter poll.QueryFilter, ordering []core.DBOrdering) ([]poll.Poll, error) {
	clause, args := buildPollQuery(filter, ordering)
	polls, err := repo.selectPolls(ctx, `SELECT `+pollColumns+` FROM polls`+clause, args...)
	return polls, errors.Wrap(err, "selecting polls")
}

// missingOr returns ErrNotFound if the poll does not exist, `err` otherwise.
func (repo *pollRepository) missingOr(ctx context.Context, pollID string, err error) error {
	var found bool
	if qErr := repo.db.GetContext(ctx, &found, `SELECT true FROM polls WHERE poll_id = $1`, pollID); qErr != nil {
		if qErr == sql.ErrNoRows {
			return poll.ErrNotFound
		}
		return errors.Wrap(qErr, "checking poll")
	}
	return err
}

// updateMiss tells why a guarded update matched no row.
func updateMiss(current poll.Poll, err error) error {
	if err != nil {
		return err
	}
	if current.TotalVotes > 0 && current.Status != poll.StatusDraft {
		return poll.ErrPollLocked
	}
	return poll.ErrPollChanged
}

func (repo *pollRepository) UpdatePoll(ctx context.Context, p poll.Poll, from poll.Status) (poll.Poll, error) {
	q := `UPDATE polls
		SET title = $2, description = $3, options = $4, start_date = $5, end_date = $6,
			require_comments = $7, show_results_before_end = $8, auto_close_on_end_date = $9,
			status = $10, updated_at = $11
		WHERE poll_id = $1 AND (total_votes = 0 OR status = 'draft') AND status = $12
		RETURNING ` + pollColumns
	updated, err := scanPoll(repo.db.QueryRowContext(ctx, q,
		p.PollID, p.Title, null.NewString(p.Description, p.Description != ""), pq.StringArray(p.Options),
		p.StartDate, p.EndDate, p.Settings.RequireComments, p.Settings.ShowResultsBeforeEnd,
		p.Settings.AutoCloseOnEndDate, string(p.Status), p.UpdatedAt, string(from),
	))
	if err == sql.ErrNoRows {
		return poll.Poll{}, updateMiss(repo.GetPollByID(ctx, p.PollID))
	}
	if err != nil {
		return poll.Poll{}, errors.Wrap(err, "updating poll")
	}
	return updated, nil
}

func (repo *pollRepository) DeletePoll(ctx context.Context, pollID string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM polls WHERE poll_id = $1 AND total_votes = 0`, pollID)
	if err != nil {
		return errors.Wrap(err, "deleting poll")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "deleting poll")
	}
	if n == 0 {
		return repo.missingOr(ctx, pollID, poll.ErrPollHasVotes)
	}
	return nil
}

func (repo *pollRepository) AppendVote(ctx context.Context, pollID string, v poll.Vote, now time.Time) (poll.Poll, error) {
	q := `UPDATE polls
		SET votes = votes || $2::jsonb, total_votes = total_votes + 1, updated_at = $3
		WHERE poll_id = $1
			AND status = 'active' AND start_date <= $3 AND end_date > $3
			AND (allow_multiple_votes OR NOT votes @> $4::jsonb)
		RETURNING ` + pollColumns
	byVoter := []map[string]string{{"voter_id": v.VoterID}}
	updated, err := scanPoll(repo.db.QueryRowContext(ctx, q, pollID, jsonb{[]poll.Vote{v}}, now, jsonb{byVoter}))
	if err == nil {
		return updated, nil
	}
	if err != sql.ErrNoRows {
		return poll.Poll{}, errors.Wrap(err, "appending vote")
	}

	// find out which condition failed
	current, err := repo.GetPollByID(ctx, pollID)
	if err != nil {
		return poll.Poll{}, err
	}
	if !current.IsActive(now) {
		return poll.Poll{}, poll.ErrPollInactive
	}
	return poll.Poll{}, poll.ErrAlreadyVoted
}

func (repo *pollRepository) TransitionStatus(ctx context.Context, pollID string, from, to poll.Status, now time.Time) error {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE polls SET status = $3, updated_at = $4 WHERE poll_id = $1 AND status = $2`,
		pollID, string(from), string(to), now,
	)
	if err != nil {
		return errors.Wrap(err, "updating poll status")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repo.missingOr(ctx, pollID, nil)
	}
	return nil
}

func (repo *pollRepository) sweep(ctx context.Context, q string, now time.Time) (int64, error) {
	res, err := repo.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (repo *pollRepository) ActivateDue(ctx context.Context, now time.Time) (int64, error) {
	n, err := repo.sweep(ctx, `UPDATE polls SET status = 'active', updated_at = $1
		WHERE status = 'draft' AND start_date <= $1`, now)
	return n, errors.Wrap(err, "activating polls")
}

func (repo *pollRepository) CompleteDue(ctx context.Context, now time.Time) (int64, error) {
	n, err := repo.sweep(ctx, `UPDATE polls SET status = 'completed', updated_at = $1
		WHERE status = 'active' AND end_date <= $1 AND auto_close_on_end_date`, now)
	return n, errors.Wrap(err, "completing polls")
}

func (repo *pollRepository) PollsEndingBetween(ctx context.Context, from, to time.Time) ([]poll.Poll, error) {
	q := `SELECT ` + pollColumns + ` FROM polls
		WHERE status = 'active' AND end_date >= $1 AND end_date <= $2
		ORDER BY end_date`
	polls, err := repo.selectPolls(ctx, q, from, to)
	return polls, errors.Wrap(err, "selecting polls ending soon")
}

func (repo *pollRepository) CountByStatus(ctx context.Context) ([]poll.StatusCount, error) {
	var rows []struct {
		Status     string `db:"status"`
		Count      int    `db:"count"`
		TotalVotes int    `db:"total_votes"`
	}
	q := `SELECT status, COUNT(*) AS count, COALESCE(SUM(total_votes), 0) AS total_votes
		FROM polls GROUP BY status`
	if err := repo.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "counting polls by status")
	}

	byStatus := make(map[poll.Status]poll.StatusCount, len(rows))
	for _, row := range rows {
		st := poll.Status(row.Status)
		byStatus[st] = poll.StatusCount{Status: st, Count: row.Count, TotalVotes: row.TotalVotes}
	}
	counts := make([]poll.StatusCount, 0, len(rows))
	for _, st := range poll.AllStatuses {
		if c, ok := byStatus[st]; ok {
			counts = append(counts, c)
		}
	}
	return counts, nil
}
