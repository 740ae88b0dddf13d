// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock primitives for the event core. The spinlock works on a bare 64-bit
// word so the same code guards process-local structures (timer tree, posted
// queues) and words placed in a shared mapping between worker processes.
package concurrency
