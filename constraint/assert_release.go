//go:build !tendon_debug

package constraint

const debugChecks = false
