// Package connection provides broker connection bookkeeping for the gateway.
//
// This package handles:
//   - Exponential backoff with jitter between connect attempts
//   - Bounded connect retries at startup
//   - Connection state tracking with change notification
//
// # Retry Strategy
//
// A failed connect is retried with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds
//
// Each delay gets up to 25% random jitter on top. The schedule comes from
// the broker.backoff section of the gateway configuration. After the configured
// number of attempts Retry gives up and returns the last error wrapped in
// ErrAttemptsExhausted; the gateway treats that as a fatal startup failure.
package connection
