// Package objpool implements a generic bounded pool of reusable items.
//
// It borrows its shape from dryyun/go-pool's channel-backed connection
// pool, but swaps the channel for a mutex+condition-variable-guarded
// slice so that items can be inspected, validated and evicted from
// anywhere in the free list (not just the head), idle entries can carry
// per-entry expiry, and threshold-crossing events can be detected.
//
// A Pool does not know what it pools. Callers supply a Config with
// Create/Validate/Destroy callbacks; pooled items implement Reusable so
// the pool can restore default state before handing them out again.
package objpool
