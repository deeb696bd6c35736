// Package filter defines the expression environment for per-message
// delivery filters. A filter is a boolean expression evaluated once per
// recipient; Target names the candidate recipient.
package filter

import (
	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

// User is a participant as seen by a filter expression.
type User struct {
	Name string
}

// Room is the subset of room state exposed to filters.
type Room struct {
	Id      string
	Name    string
	Creator string
	Tags    map[string]string
}

// Env is the evaluation environment of a delivery filter.
type Env struct {
	Room   Room
	Sender User
	Target User
}

// Compile parses a filter expression against the Env schema.
func Compile(src string) (*vm.Program, error) {
	return expr.Compile(src, expr.Env(Env{}))
}

// Match runs a compiled filter for one recipient. A non-boolean result or a
// runtime error counts as no match.
func Match(prog *vm.Program, env Env) bool {
	res, err := expr.Run(prog, env)
	if err != nil {
		return false
	}
	b, ok := res.(bool)
	return ok && b
}
