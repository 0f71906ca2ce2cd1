// Package location talks to the Location service on behalf of the MEC app.
//
// A Client owns one persistent TCP connection and runs the circle
// subscription cycle over it: create (POST), modify (PUT), delete (DELETE)
// and the notifications the service pushes back on the same connection.
// Every message is assembled with the incremental parser from httpstream,
// and a chunk that is not fully consumed aborts the exchange with
// httpstream.ErrProtocolDesync.
//
// Discover resolves the service endpoint through the MEC service registry
// when no static address is configured.
package location
