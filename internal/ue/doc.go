// Package ue implements the UE side of the geofence alert protocol: resolve
// the MEC app through the Device App registry, ask it to monitor a circle,
// react to enter and leave alerts and deregister after leaving.
//
// The client is a single loop over one owned UDP endpoint. Every wait is
// bounded by the context and by the configured timeouts.
package ue
