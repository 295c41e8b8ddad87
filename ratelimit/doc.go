// Package ratelimit implements an exact sliding-window rate limiter and the
// static rule table that decides which limit applies to a request.
//
// The limiter is purely in-memory and never performs I/O: each tracked key
// owns an ordered timestamp log bounded to the trailing window, guarded by a
// sharded lock so checks on unrelated keys proceed in parallel. Unlike
// fixed-window counters, the accounting is exact: the number of allowed
// calls in any trailing window never exceeds the configured limit, including
// across window boundaries.
package ratelimit
