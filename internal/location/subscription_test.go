package location

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

func TestEncodeSubscription(t *testing.T) {
	data, err := EncodeSubscription(Subscription{
		Criterion:        Entering,
		Circle:           wire.Circle{X: 210, Y: 260, Radius: 60},
		Address:          "acr:10.0.0.1",
		CallbackData:     "1234",
		NotifyURL:        "example.com/notification/1234",
		ClientCorrelator: "null",
		Frequency:        5,
		TrackingAccuracy: 10,
	})
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	body := decoded["circleNotificationSubscription"]
	require.NotNil(t, body)
	assert.Equal(t, "false", body["checkImmediate"])
	assert.Equal(t, "acr:10.0.0.1", body["address"])
	assert.Equal(t, "null", body["clientCorrelator"])
	assert.Equal(t, "Entering", body["enteringLeavingCriteria"])
	assert.Equal(t, 5.0, body["frequency"])
	assert.Equal(t, 60.0, body["radius"])
	assert.Equal(t, 10.0, body["trackingAccuracy"])
	assert.Equal(t, 210.0, body["latitude"])
	assert.Equal(t, 260.0, body["longitude"])
	assert.Equal(t, map[string]any{"callbackData": "1234", "notifyURL": "example.com/notification/1234"}, body["callbackReference"])
	assert.NotContains(t, body, "resourceURL")

	sub, err := DecodeSubscription(data)
	require.NoError(t, err)
	assert.Equal(t, Entering, sub.Criterion)
	assert.Equal(t, wire.Circle{X: 210, Y: 260, Radius: 60}, sub.Circle)
}

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expected    *Notification
		expectError bool
	}{
		{
			name: "single terminal object",
			body: `{"subscriptionNotification":{"terminalLocationList":{"currentLocation":{"x":215,"y":262}}}}`,
			expected: &Notification{
				Position: wire.Point{X: 215, Y: 262},
			},
		},
		{
			name: "full notification with string flag",
			body: `{"subscriptionNotification":{"enteringLeavingCriteria":"Leaving","isFinalNotification":"true",
				"link":{"href":"http://svc/circle/0","rel":"CircleNotificationSubscription"},
				"terminalLocationList":{"address":"acr:10.0.0.1","currentLocation":{"x":500,"y":500}}}}`,
			expected: &Notification{
				Criterion: Leaving,
				Final:     true,
				Position:  wire.Point{X: 500, Y: 500},
				Link:      "http://svc/circle/0",
			},
		},
		{
			name: "terminal array",
			body: `{"subscriptionNotification":{"isFinalNotification":false,"terminalLocationList":[{"currentLocation":{"x":1.5,"y":2}},{"currentLocation":{"x":9,"y":9}}]}}`,
			expected: &Notification{
				Position: wire.Point{X: 1.5, Y: 2},
			},
		},
		{name: "not json", body: `{`, expectError: true},
		{name: "missing envelope", body: `{"other":{}}`, expectError: true},
		{name: "empty terminal list", body: `{"subscriptionNotification":{"terminalLocationList":[]}}`, expectError: true},
		{name: "bad final flag", body: `{"subscriptionNotification":{"isFinalNotification":"maybe","terminalLocationList":{}}}`, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := DecodeNotification([]byte(tt.body))
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected.Criterion, n.Criterion)
			assert.Equal(t, tt.expected.Final, n.Final)
			assert.Equal(t, tt.expected.Position, n.Position)
			assert.Equal(t, tt.expected.Link, n.Link)
			assert.False(t, n.ReceivedAt.IsZero())
		})
	}
}

func TestNotificationEncodeDecode(t *testing.T) {
	data, err := EncodeNotification(Notification{Criterion: Entering, Position: wire.Point{X: 215, Y: 262}, Link: "l"})
	require.NoError(t, err)

	n, err := DecodeNotification(data)
	require.NoError(t, err)
	assert.Equal(t, Entering, n.Criterion)
	assert.False(t, n.Final)
	assert.Equal(t, wire.Point{X: 215, Y: 262}, n.Position)
}

func TestSubscriptionIDFrom(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		location string
		expected SubscriptionID
	}{
		{
			name:     "resource url",
			body:     `{"circleNotificationSubscription":{"resourceURL":"http://192.168.2.1:10020/example/location/v2/subscriptions/area/circle/3"}}`,
			expected: "3",
		},
		{
			name:     "resource url wins over header",
			body:     `{"circleNotificationSubscription":{"resourceURL":"/subscriptions/area/circle/4/"}}`,
			location: "/subscriptions/area/circle/9",
			expected: "4",
		},
		{
			name:     "header fallback",
			body:     `{"circleNotificationSubscription":{}}`,
			location: "/example/location/v2/subscriptions/area/circle/5",
			expected: "5",
		},
		{
			name:     "non json body",
			body:     `created`,
			location: "http://host/circle/6",
			expected: "6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := subscriptionIDFrom([]byte(tt.body), tt.location)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}

	_, err := subscriptionIDFrom(nil, "")
	assert.True(t, errors.Is(err, ErrNoSubscriptionID))
}

func TestCriterion(t *testing.T) {
	assert.Equal(t, Leaving, Entering.Opposite())
	assert.Equal(t, Entering, Leaving.Opposite())
	assert.True(t, Entering.Valid())
	assert.False(t, Criterion("Staying").Valid())
}
