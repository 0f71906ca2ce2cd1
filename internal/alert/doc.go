// Package alert turns geofence events into UE alerts. A Source is armed with
// a criterion and reports the next enter or leave event for one UE session.
//
// Two variants exist. SubscriptionSource delegates to the Location service
// over a persistent subscription. DirectSource evaluates position reports the
// UE sends to the MEC app itself. Each keeps its own alert datagram layout.
package alert
