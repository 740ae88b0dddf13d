// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw socket plumbing for the event core: listening sockets and their
// options, non-blocking accept with accept4 fallback, outbound connect,
// sockaddr encoding and errno classification. Everything works on plain
// descriptors so the event layer can own their lifetime explicitly.

package transport
