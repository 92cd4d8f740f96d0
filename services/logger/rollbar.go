// Package logsvc implements core.Logger on top of Rollbar.
package logsvc

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/poll"
	"github.com/trezcool/bosvoting/core/user"
)

// reports the file of the caller of Debug, Info and the other level methods
const callDepth = 3

// RollbarLogger reports entries to Rollbar when a token is configured and echoes them to its output.
type RollbarLogger struct {
	component string
	std       *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewRollbarLogger writes entries prefixed with the upper-cased `component` to `out`.
func NewRollbarLogger(component string, out io.Writer, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.TestMode)

	return &RollbarLogger{
		component: component,
		std:       log.New(out, strings.ToUpper(component)+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
	}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

type person struct {
	id, name, email string
}

// entry is a log call split into what Rollbar understands.
type entry struct {
	args   []interface{} // message, errors and other values passed through
	extras map[string]interface{}
	person *person
}

// prepare sorts `args`: the first user.User or poll.Caller is the person, polls and votes
// become custom data merged with any map argument.
func (l RollbarLogger) prepare(msg string, args []interface{}) entry {
	e := entry{
		args:   []interface{}{msg},
		extras: map[string]interface{}{"component": l.component},
	}
	setPerson := func(id, name, email string) {
		if e.person == nil {
			e.person = &person{id: id, name: name, email: email}
		}
	}
	for _, arg := range args {
		switch v := arg.(type) {
		case user.User:
			setPerson(v.ID, v.Name, v.Email)
		case poll.Caller:
			setPerson(v.ID, v.Name, v.Email)
		case poll.Poll:
			e.extras["poll_id"] = v.PollID
			e.extras["poll_status"] = string(v.Status)
		case poll.Vote:
			e.extras["voter_role"] = v.VoterRole
		case map[string]interface{}:
			for k, val := range v {
				e.extras[k] = val
			}
		default:
			e.args = append(e.args, arg)
		}
	}
	e.args = append(e.args, e.extras)
	return e
}

// describe keeps domain values short in the console output.
func describe(arg interface{}) string {
	switch v := arg.(type) {
	case user.User:
		return "user " + v.ID
	case poll.Caller:
		return "caller " + v.ID
	case poll.Poll:
		return fmt.Sprintf("poll %s (%s)", v.PollID, v.Status)
	case poll.Vote:
		return fmt.Sprintf("vote by %s (%s)", v.VoterID, v.VoterRole)
	default:
		return fmt.Sprintf("%+v", arg)
	}
}

func (l RollbarLogger) log(report func(...interface{}), msg string, args []interface{}) {
	e := l.prepare(msg, args)
	if e.person != nil {
		rollbar.SetPerson(e.person.id, e.person.name, e.person.email)
	} else {
		rollbar.ClearPerson()
	}
	report(e.args...)

	var sb strings.Builder
	sb.WriteString(msg)
	for _, arg := range args {
		sb.WriteString("\n\t")
		sb.WriteString(describe(arg))
	}
	_ = l.std.Output(callDepth, sb.String())
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	l.log(rollbar.Debug, msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	l.log(rollbar.Info, msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	l.log(rollbar.Warning, msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	l.log(rollbar.Error, msg, args)
}

// Fatal reports the entry, waits for Rollbar to deliver it and exits.
func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(rollbar.Critical, msg, args)
	rollbar.Wait()
	os.Exit(1)
}
