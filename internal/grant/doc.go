// Package grant models the execution grant: the host privilege that keeps the
// worker running while no controller is visible.
//
// A Grant owns two flags. channelRegistered flips once, the first time the
// grant needs its notification channel; active toggles with Acquire and
// Release. Both are mutated only under the grant's mutex so concurrent
// controllers sharing one worker can never double-register the channel or
// double-promote the worker. Redundant requests are no-ops.
package grant
