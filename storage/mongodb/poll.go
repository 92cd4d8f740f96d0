package mongorepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/poll"
)

type pollDoc struct {
	PollID             string        `bson:"_id"`
	Title              string        `bson:"title"`
	Description        string        `bson:"description,omitempty"`
	Options            []string      `bson:"options"`
	CreatedBy          poll.Creator  `bson:"created_by"`
	EligibleVoters     []string      `bson:"eligible_voters"`
	StartDate          time.Time     `bson:"start_date"`
	EndDate            time.Time     `bson:"end_date"`
	IsAnonymous        bool          `bson:"is_anonymous"`
	AllowMultipleVotes bool          `bson:"allow_multiple_votes"`
	Settings           poll.Settings `bson:"settings"`
	Status             string        `bson:"status"`
	Votes              []poll.Vote   `bson:"votes"`
	TotalVotes         int           `bson:"total_votes"`
	CreatedAt          time.Time     `bson:"created_at"`
	UpdatedAt          time.Time     `bson:"updated_at"`
}

func toPollDoc(p poll.Poll) pollDoc {
	votes := p.Votes
	if votes == nil {
		votes = []poll.Vote{}
	}
	return pollDoc{
		PollID:             p.PollID,
		Title:              p.Title,
		Description:        p.Description,
		Options:            p.Options,
		CreatedBy:          p.CreatedBy,
		EligibleVoters:     p.EligibleVoters,
		StartDate:          p.StartDate,
		EndDate:            p.EndDate,
		IsAnonymous:        p.IsAnonymous,
		AllowMultipleVotes: p.AllowMultipleVotes,
		Settings:           p.Settings,
		Status:             string(p.Status),
		Votes:              votes,
		TotalVotes:         len(votes),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func (doc pollDoc) toPoll() poll.Poll {
	votes := doc.Votes
	if votes == nil {
		votes = []poll.Vote{}
	}
	for i := range votes {
		votes[i].VotedAt = votes[i].VotedAt.UTC()
	}
	return poll.Poll{
		PollID:             doc.PollID,
		Title:              doc.Title,
		Description:        doc.Description,
		Options:            doc.Options,
		CreatedBy:          doc.CreatedBy,
		EligibleVoters:     doc.EligibleVoters,
		StartDate:          doc.StartDate.UTC(),
		EndDate:            doc.EndDate.UTC(),
		IsAnonymous:        doc.IsAnonymous,
		AllowMultipleVotes: doc.AllowMultipleVotes,
		Settings:           doc.Settings,
		Status:             poll.Status(doc.Status),
		Votes:              votes,
		TotalVotes:         doc.TotalVotes,
		CreatedAt:          doc.CreatedAt.UTC(),
		UpdatedAt:          doc.UpdatedAt.UTC(),
	}
}

// sortableFields maps the ordering fields to document keys.
var sortableFields = map[string]string{
	"created_at": "created_at",
	"start_date": "start_date",
	"end_date":   "end_date",
	"title":      "title",
	"status":     "status",
}

func buildPollFilter(filter poll.QueryFilter) bson.M {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.CreatedBy != "" {
		query["created_by.admin_id"] = filter.CreatedBy
	}
	if len(filter.EligibleRoles) > 0 {
		query["eligible_voters"] = bson.M{"$in": filter.EligibleRoles}
	}
	if !filter.OpenAt.IsZero() {
		query["start_date"] = bson.M{"$lte": filter.OpenAt}
		query["end_date"] = bson.M{"$gt": filter.OpenAt}
	}
	return query
}

func buildPollSort(ordering []core.DBOrdering) bson.D {
	sort := make(bson.D, 0, len(ordering)+1)
	for _, ord := range ordering {
		key, ok := sortableFields[ord.Field]
		if !ok {
			continue
		}
		direction := -1
		if ord.Ascending {
			direction = 1
		}
		sort = append(sort, bson.E{Key: key, Value: direction})
	}
	if len(sort) == 0 {
		sort = append(sort, bson.E{Key: "created_at", Value: -1})
	}
	// poll ids grow with their creation time
	return append(sort, bson.E{Key: "_id", Value: -1})
}

type pollRepository struct {
	coll *mongo.Collection
}

var _ poll.Repository = (*pollRepository)(nil) // interface compliance check

func NewPollRepository(db *mongo.Database) poll.Repository {
	return &pollRepository{coll: db.Collection(pollsCollection)}
}

func (repo *pollRepository) CreatePoll(ctx context.Context, p poll.Poll) (poll.Poll, error) {
	doc := toPollDoc(p)
	if _, err := repo.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return poll.Poll{}, poll.ErrPollIDExists
		}
		return poll.Poll{}, errors.Wrap(err, "inserting poll")
	}
	return doc.toPoll(), nil
}

func (repo *pollRepository) GetPollByID(ctx context.Context, pollID string) (poll.Poll, error) {
	var doc pollDoc
	err := repo.coll.FindOne(ctx, bson.M{"_id": pollID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return poll.Poll{}, poll.ErrNotFound
	}
	if err != nil {
		return poll.Poll{}, errors.Wrap(err, "finding poll")
	}
	return doc.toPoll(), nil
}

func (repo *pollRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]poll.Poll, error) {
	cur, err := repo.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []pollDoc
	if err = cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	polls := make([]poll.Poll, 0, len(docs))
	for _, doc := range docs {
		polls = append(polls, doc.toPoll())
	}
	return polls, nil
}

func (repo *pollRepository) QueryPolls(ctx context.Context, filter poll.QueryFilter, ordering []core.DBOrdering) ([]poll.Poll, error) {
	polls, err := repo.find(ctx, buildPollFilter(filter), options.Find().SetSort(buildPollSort(ordering)))
	return polls, errors.Wrap(err, "finding polls")
}

// missingOr returns ErrNotFound if the poll does not exist, `err` otherwise.
func (repo *pollRepository) missingOr(ctx context.Context, pollID string, err error) error {
	n, cErr := repo.coll.CountDocuments(ctx, bson.M{"_id": pollID})
	if cErr != nil {
		return errors.Wrap(cErr, "counting polls")
	}
	if n == 0 {
		return poll.ErrNotFound
	}
	return err
}

func (repo *pollRepository) findOneAndUpdate(ctx context.Context, filter, update bson.M) (poll.Poll, error) {
	var doc pollDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if err := repo.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return poll.Poll{}, err
	}
	return doc.toPoll(), nil
}

func (repo *pollRepository) UpdatePoll(ctx context.Context, p poll.Poll, from poll.Status) (poll.Poll, error) {
	filter := bson.M{
		"_id":    p.PollID,
		"status": string(from),
		"$or":    bson.A{bson.M{"total_votes": 0}, bson.M{"status": string(poll.StatusDraft)}},
	}
	update := bson.M{"$set": bson.M{
		"title":       p.Title,
		"description": p.Description,
		"options":     p.Options,
		"start_date":  p.StartDate,
		"end_date":    p.EndDate,
		"settings":    p.Settings,
		"status":      string(p.Status),
		"updated_at":  p.UpdatedAt,
	}}
	updated, err := repo.findOneAndUpdate(ctx, filter, update)
	if err == mongo.ErrNoDocuments {
		return poll.Poll{}, repo.updateMiss(ctx, p.PollID)
	}
	if err != nil {
		return poll.Poll{}, errors.Wrap(err, "updating poll")
	}
	return updated, nil
}

// updateMiss tells why a guarded update matched no document.
func (repo *pollRepository) updateMiss(ctx context.Context, pollID string) error {
	current, err := repo.GetPollByID(ctx, pollID)
	switch {
	case err != nil:
		return err
	case current.TotalVotes > 0 && current.Status != poll.StatusDraft:
		return poll.ErrPollLocked
	default:
		return poll.ErrPollChanged
	}
}

func (repo *pollRepository) DeletePoll(ctx context.Context, pollID string) error {
	res, err := repo.coll.DeleteOne(ctx, bson.M{"_id": pollID, "total_votes": 0})
	if err != nil {
		return errors.Wrap(err, "deleting poll")
	}
	if res.DeletedCount == 0 {
		return repo.missingOr(ctx, pollID, poll.ErrPollHasVotes)
	}
	return nil
}

func (repo *pollRepository) AppendVote(ctx context.Context, pollID string, v poll.Vote, now time.Time) (poll.Poll, error) {
	filter := bson.M{
		"_id":        pollID,
		"status":     string(poll.StatusActive),
		"start_date": bson.M{"$lte": now},
		"end_date":   bson.M{"$gt": now},
		"$or": bson.A{
			bson.M{"allow_multiple_votes": true},
			bson.M{"votes.voter_id": bson.M{"$ne": v.VoterID}},
		},
	}
	update := bson.M{
		"$push": bson.M{"votes": v},
		"$inc":  bson.M{"total_votes": 1},
		"$set":  bson.M{"updated_at": now},
	}
	updated, err := repo.findOneAndUpdate(ctx, filter, update)
	if err == nil {
		return updated, nil
	}
	if err != mongo.ErrNoDocuments {
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
	res, err := repo.coll.UpdateOne(ctx,
		bson.M{"_id": pollID, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updated_at": now}},
	)
	if err != nil {
		return errors.Wrap(err, "updating poll status")
	}
	if res.MatchedCount == 0 {
		return repo.missingOr(ctx, pollID, nil)
	}
	return nil
}

func (repo *pollRepository) ActivateDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := repo.coll.UpdateMany(ctx,
		bson.M{"status": string(poll.StatusDraft), "start_date": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"status": string(poll.StatusActive), "updated_at": now}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "activating polls")
	}
	return res.ModifiedCount, nil
}

func (repo *pollRepository) CompleteDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := repo.coll.UpdateMany(ctx,
		bson.M{
			"status":                          string(poll.StatusActive),
			"end_date":                        bson.M{"$lte": now},
			"settings.auto_close_on_end_date": true,
		},
		bson.M{"$set": bson.M{"status": string(poll.StatusCompleted), "updated_at": now}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "completing polls")
	}
	return res.ModifiedCount, nil
}

func (repo *pollRepository) PollsEndingBetween(ctx context.Context, from, to time.Time) ([]poll.Poll, error) {
	filter := bson.M{
		"status":   string(poll.StatusActive),
		"end_date": bson.M{"$gte": from, "$lte": to},
	}
	polls, err := repo.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "end_date", Value: 1}}))
	return polls, errors.Wrap(err, "finding polls ending soon")
}

func (repo *pollRepository) CountByStatus(ctx context.Context) ([]poll.StatusCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "total_votes", Value: bson.D{{Key: "$sum", Value: "$total_votes"}}},
		}}},
	}
	cur, err := repo.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "aggregating polls by status")
	}
	var groups []struct {
		Status     string `bson:"_id"`
		Count      int    `bson:"count"`
		TotalVotes int    `bson:"total_votes"`
	}
	if err = cur.All(ctx, &groups); err != nil {
		return nil, errors.Wrap(err, "decoding status counts")
	}

	byStatus := make(map[poll.Status]poll.StatusCount, len(groups))
	for _, g := range groups {
		st := poll.Status(g.Status)
		byStatus[st] = poll.StatusCount{Status: st, Count: g.Count, TotalVotes: g.TotalVotes}
	}
	counts := make([]poll.StatusCount, 0, len(groups))
	for _, st := range poll.AllStatuses {
		if c, ok := byStatus[st]; ok {
			counts = append(counts, c)
		}
	}
	return counts, nil
}
