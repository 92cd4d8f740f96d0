// Package inmemdb keeps every table in process memory. It backs tests and the "memory" engine.
package inmemdb

import (
	"sync"

	"github.com/trezcool/bosvoting/core/poll"
	"github.com/trezcool/bosvoting/core/user"
)

type (
	DB struct {
		user *userTable
		poll *pollTable
	}

	userTable struct {
		mutex sync.RWMutex
		table map[string]*user.User
	}

	pollTable struct {
		mutex sync.RWMutex
		table map[string]*poll.Poll
		pkSeq int // insertion order, used as the default ordering tie-breaker
		order map[string]int
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[string]*user.User)},
		poll: &pollTable{table: make(map[string]*poll.Poll), order: make(map[string]int)},
	}
}
