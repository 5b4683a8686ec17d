// Package requestcache implements cache-aside fetches with single-flight
// coalescing.
//
// A [Handler] is created once per request family with a TTL and a fetch
// function. [Handler.For] binds an integration and an input descriptor; the
// cache key is derived from a canonical encoding of the descriptor (see
// [Key]), so logically equal inputs share one entry.
//
// [Request.Get] serves a fresh entry without a network call unless the caller
// forces an update. Concurrent callers for one key share a single in-flight
// fetch. A failed fetch never clears an existing entry.
package requestcache
