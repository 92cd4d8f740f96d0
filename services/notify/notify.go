// Package notify delivers poll notifications (emails and events) off the request path.
package notify

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/poll"
	"github.com/trezcool/bosvoting/core/user"
	"github.com/trezcool/bosvoting/services/events"
)

// Email templates
const (
	tmplPollCreated   = "poll_created"
	tmplVoteConfirmed = "vote_confirmed"
	tmplPollClosing   = "poll_closing"
)

const jobTimeout = 30 * time.Second

type (
	// Directory finds who gets notified.
	Directory interface {
		Recipients(ctx context.Context, roles []string) ([]mail.Address, error)
		Voters(ctx context.Context, roles []string) ([]user.User, error)
	}

	Options struct {
		Logger    core.Logger
		Mailer    core.EmailService
		Users     Directory
		Publisher eventsvc.Publisher // optional
		QueueSize int
		NowFunc   func() time.Time // mockable
	}

	job struct {
		name string
		run  func(ctx context.Context) error
	}

	// Dispatcher implements poll.Notifier with a buffered queue drained by a single worker.
	Dispatcher struct {
		logger    core.Logger
		mailer    core.EmailService
		users     Directory
		publisher eventsvc.Publisher
		nowFunc   func() time.Time

		mu     sync.RWMutex
		closed bool
		jobs   chan job
		done   chan struct{}
	}
)

var _ poll.Notifier = (*Dispatcher)(nil)

func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		logger:    opts.Logger,
		mailer:    opts.Mailer,
		users:     opts.Users,
		publisher: opts.Publisher,
		nowFunc:   opts.NowFunc,
		jobs:      make(chan job, opts.QueueSize),
		done:      make(chan struct{}),
	}
	if d.publisher == nil {
		d.publisher = eventsvc.NewNopPublisher()
	}
	if d.nowFunc == nil {
		d.nowFunc = time.Now
	}
	return d
}

// Start launches the worker.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		for j := range d.jobs {
			d.process(j)
		}
	}()
}

// Stop stops accepting jobs and waits for the queued ones to be processed.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(fmt.Sprintf("notify %s: panic: %v", j.name, r))
		}
	}()
	if err := j.run(ctx); err != nil {
		d.logger.Error("notify "+j.name, err)
	}
}

// enqueue never blocks: jobs are dropped when the queue is full or stopped.
// It reports whether the job was queued.
func (d *Dispatcher) enqueue(j job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("notify " + j.name + ": dispatcher stopped, job dropped")
		return false
	}
	select {
	case d.jobs <- j:
		return true
	default:
		d.logger.Error("notify " + j.name + ": queue full, job dropped")
		return false
	}
}

func (d *Dispatcher) publish(ctx context.Context, evType string, p poll.Poll, payload interface{}) error {
	ev := eventsvc.NewEvent(evType, p.PollID, d.nowFunc(), payload)
	return errors.Wrap(d.publisher.Publish(ctx, ev), "publishing "+evType)
}

func pollSubject(prefix string, p poll.Poll) string {
	return prefix + p.Title + " [" + p.PollID + "]"
}

// FormatWindow renders reminder windows: "1 hour", "24 hours", "30 minutes".
func FormatWindow(window time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return strconv.FormatInt(n, 10) + " " + unit + "s"
	}
	if window >= time.Hour && window%time.Hour == 0 {
		return plural(int64(window/time.Hour), "hour")
	}
	return plural(int64(window/time.Minute), "minute")
}

// PollCreated emails every user holding one of the poll's eligible roles.
func (d *Dispatcher) PollCreated(p poll.Poll) {
	p = p.Redacted()
	d.enqueue(job{name: "poll created", run: func(ctx context.Context) error {
		to, err := d.users.Recipients(ctx, p.EligibleVoters)
		if err != nil {
			return err
		}
		if len(to) > 0 {
			d.mailer.SendMessages(&core.EmailMessage{
				Bcc:          to,
				Subject:      pollSubject("New BOS Voting Poll: ", p),
				TemplateName: tmplPollCreated,
				TemplateData: map[string]interface{}{"Poll": p},
			})
		}
		return d.publish(ctx, eventsvc.TypePollCreated, p, map[string]interface{}{
			"title":           p.Title,
			"eligible_voters": p.EligibleVoters,
			"start_date":      p.StartDate,
			"end_date":        p.EndDate,
			"recipients":      len(to),
		})
	}})
}

// VoteConfirmed emails the voter a receipt of their vote.
func (d *Dispatcher) VoteConfirmed(p poll.Poll, v poll.Vote, voter poll.Caller) {
	p = p.Redacted()
	d.enqueue(job{name: "vote confirmed", run: func(ctx context.Context) error {
		if voter.Email != "" {
			d.mailer.SendMessages(&core.EmailMessage{
				To:           []mail.Address{{Name: voter.Name, Address: voter.Email}},
				Subject:      pollSubject("Vote Submitted Successfully - ", p),
				TemplateName: tmplVoteConfirmed,
				TemplateData: map[string]interface{}{"Poll": p, "Vote": v, "VoterName": voter.Name},
			})
		}
		payload := map[string]interface{}{"total_votes": p.TotalVotes}
		if !p.IsAnonymous {
			payload["voter_id"] = v.VoterID
			payload["option_selected"] = v.OptionSelected
		}
		return d.publish(ctx, eventsvc.TypeVoteConfirmed, p, payload)
	}})
}

// PollClosing reminds the eligible voters who have not voted yet that the poll closes within `window`.
func (d *Dispatcher) PollClosing(p poll.Poll, window time.Duration) bool {
	voted := make(map[string]bool, len(p.Votes))
	for _, v := range p.Votes {
		voted[v.VoterID] = true
	}
	p = p.Redacted()
	return d.enqueue(job{name: "poll closing", run: func(ctx context.Context) error {
		voters, err := d.users.Voters(ctx, p.EligibleVoters)
		if err != nil {
			return err
		}
		to := make([]mail.Address, 0, len(voters))
		for _, usr := range voters {
			if usr.Email != "" && !voted[usr.ID] {
				to = append(to, usr.Address())
			}
		}
		humanWindow := FormatWindow(window)
		if len(to) > 0 {
			d.mailer.SendMessages(&core.EmailMessage{
				Bcc:          to,
				Subject:      pollSubject("Voting closes in "+humanWindow+": ", p),
				TemplateName: tmplPollClosing,
				TemplateData: map[string]interface{}{"Poll": p, "Window": humanWindow},
			})
		}
		return d.publish(ctx, eventsvc.TypePollClosing, p, map[string]interface{}{
			"window":   humanWindow,
			"end_date": p.EndDate,
			"reminded": len(to),
		})
	}})
}
