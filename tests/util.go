package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/poll"
	"github.com/trezcool/bosvoting/core/user"
	"github.com/trezcool/bosvoting/fs"
)

var tmplOnce sync.Once

// LoadEmailTemplates parses the embedded email templates once per test binary.
func LoadEmailTemplates(t *testing.T) {
	var err error
	tmplOnce.Do(func() {
		err = core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, true)
	})
	if err != nil {
		t.Fatalf("LoadEmailTemplates() failed: %v", err)
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreatePoll stores `p` as is, filling in what the store requires.
func CreatePoll(t *testing.T, repo poll.Repository, p poll.Poll) poll.Poll {
	if p.PollID == "" {
		p.PollID = fmt.Sprintf("POLL%d", time.Now().UnixNano())
	}
	if p.Options == nil {
		p.Options = []string{"Yes", "No"}
	}
	if p.EligibleVoters == nil {
		p.EligibleVoters = append([]string(nil), poll.DefaultEligibleVoters...)
	}
	if p.Status == "" {
		p.Status = poll.StatusDraft
	}
	if p.Votes == nil {
		p.Votes = []poll.Vote{}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.StartDate
		p.UpdatedAt = p.StartDate
	}
	created, err := repo.CreatePoll(context.Background(), p)
	if err != nil {
		t.Fatalf("CreatePoll() failed: %v", err)
	}
	return created
}

// Logger records log entries instead of printing them.
type Logger struct {
	mu      sync.Mutex
	Entries []string
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := level + ": " + msg
	for _, arg := range args {
		entry += fmt.Sprintf(" | %v", arg)
	}
	l.Entries = append(l.Entries, entry)
}

// Logged returns a copy of the entries recorded so far.
func (l *Logger) Logged() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.Entries...)
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("FATAL", msg, args) }
