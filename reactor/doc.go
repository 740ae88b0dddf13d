// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness backends of the event core: epoll on
// Linux, kqueue on Darwin and FreeBSD, and poll everywhere else on unix.
// Every notification carries the slot index and generation of the connection
// it was registered for and is resolved through the loop before delivery.
package reactor
