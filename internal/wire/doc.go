// Package wire implements the two-byte framed datagram format shared by the
// Device App registry, the UE app and the MEC app, together with the textual
// payloads carried inside it (circles, positions, endpoints and alerts).
package wire
