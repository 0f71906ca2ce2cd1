// Package deviceapp covers the Device App registry that resolves an
// application name to the endpoint of a running MEC app.
//
// Registry is what the UE depends on. Client implements it over UDP with the
// shared wire format. Server is a static stand-in for the registry, used in
// development setups and tests.
package deviceapp
