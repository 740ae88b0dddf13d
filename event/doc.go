// File: event/doc.go
// Package event
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package event is the connection and event management core of a worker
// process. A Loop owns a fixed Pool of connections, one readiness Backend,
// the timer tree and the posted queues. Listening sockets come from a
// Registry that can be published to and adopted by a successor process.
// Workers sharing listeners arbitrate through an AcceptMutex living in a
// shared zone, so only one of them watches the listeners at a time.
//
// Everything here runs on the loop goroutine. The only blocking call is
// Backend.ProcessEvents; accept, acquire, release, timer and mutex operations
// return immediately with a result or a "not now" error.
package event
