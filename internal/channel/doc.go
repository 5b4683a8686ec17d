// Package channel provides the pub/sub layer that carries freshly fetched
// values from jobs to subscribers.
//
// The main components are:
//
//   - [Broker]: substrate interface with a pub/sub side and a key-value side
//   - [MemoryBroker]: in-process Broker with non-blocking buffered fan-out
//   - [RedisBroker]: Broker backed by Redis PUBLISH/SUBSCRIBE, strings and sets
//   - [Channel]: typed topic with a stored last state
//   - [List]: typed member set for bulk collection
//
// Item channels are addressed by widget kind and integration id through
// [Topic]; the presentation layer derives the same name to subscribe.
//
// Slow subscribers miss updates rather than block publishers. A subscriber
// that needs the current value reads [Channel.LastState] after subscribing.
package channel
