package constraint

import "fmt"

// assert panics on a broken precondition when built with the tendon_debug tag.
// Release builds compile the checks away.
func assert(condition bool, format string, args ...any) {
	if debugChecks && !condition {
		panic(fmt.Sprintf("constraint: "+format, args...))
	}
}

// Assert exposes the debug checks to the packages that drive records.
func Assert(condition bool, format string, args ...any) {
	assert(condition, format, args...)
}
