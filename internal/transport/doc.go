// Package transport owns the sockets used by the UE and MEC apps. Every
// blocking receive is bounded by a timeout and by the caller's context, and
// reports ErrTimeout or ErrPeerClosed instead of suspending forever.
package transport
