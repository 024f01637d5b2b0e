// Package assert reports broken engine invariants. A failed assertion is a programming
// error, never a runtime condition, and panics.
package assert

import "fmt"

type Error struct {
	Msg string
}

func (e *Error) Error() string { return "assertion failed: " + e.Msg }

func IsTrue(ok bool, message string, args ...interface{}) {
	if !ok {
		panic(&Error{Msg: fmt.Sprintf(message, args...)})
	}
}
