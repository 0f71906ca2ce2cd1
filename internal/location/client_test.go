package location_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/mec-geofence-alert/internal/httpstream"
	"github.com/skypro1111/mec-geofence-alert/internal/location"
	"github.com/skypro1111/mec-geofence-alert/internal/locationtest"
	"github.com/skypro1111/mec-geofence-alert/internal/transport"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startService(t *testing.T, behavior locationtest.Behavior) *locationtest.Service {
	t.Helper()
	svc, err := locationtest.Start(behavior, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { svc.Stop() })
	return svc
}

func dialService(t *testing.T, svc *locationtest.Service, readTimeout time.Duration) *location.Client {
	t.Helper()
	client, err := location.Dial(context.Background(), location.Config{
		Address:          svc.Addr(),
		BasePath:         locationtest.DefaultBasePath,
		ReadTimeout:      readTimeout,
		AckNotifications: true,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func testSubscription(criterion location.Criterion) location.Subscription {
	return location.Subscription{
		Criterion:        criterion,
		Circle:           wire.Circle{X: 210, Y: 260, Radius: 60},
		Address:          "acr:10.0.0.1",
		CallbackData:     "1234",
		NotifyURL:        "example.com/notification/1234",
		ClientCorrelator: "null",
		Frequency:        5,
		TrackingAccuracy: 10,
	}
}

func TestClientSubscriptionCycle(t *testing.T) {
	svc := startService(t, locationtest.Behavior{
		Positions: map[location.Criterion]wire.Point{
			location.Entering: {X: 215, Y: 262},
			location.Leaving:  {X: 500, Y: 500},
		},
	})
	client := dialService(t, svc, 5*time.Second)
	ctx := context.Background()

	id, err := client.Subscribe(ctx, testSubscription(location.Entering))
	require.NoError(t, err)
	assert.Equal(t, location.SubscriptionID("0"), id)

	n, err := client.NextNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, location.Entering, n.Criterion)
	assert.Equal(t, wire.Point{X: 215, Y: 262}, n.Position)

	require.NoError(t, client.Modify(ctx, id, testSubscription(location.Leaving)))

	n, err = client.NextNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, location.Leaving, n.Criterion)
	assert.Equal(t, wire.Point{X: 500, Y: 500}, n.Position)

	require.NoError(t, client.Delete(ctx, id))
	assert.Equal(t, 0, svc.Subscriptions())

	requests := svc.Requests()
	require.Len(t, requests, 3)
	assert.Equal(t, http.MethodPost, requests[0].Method)
	assert.Equal(t, "/example/location/v2/subscriptions/area/circle", requests[0].URI)
	require.NotNil(t, requests[0].Subscription)
	assert.Equal(t, location.Entering, requests[0].Subscription.Criterion)
	assert.Equal(t, wire.Circle{X: 210, Y: 260, Radius: 60}, requests[0].Subscription.Circle)
	assert.Equal(t, "acr:10.0.0.1", requests[0].Subscription.Address)

	assert.Equal(t, http.MethodPut, requests[1].Method)
	assert.Equal(t, "/example/location/v2/subscriptions/area/circle/0", requests[1].URI)
	assert.Equal(t, location.Leaving, requests[1].Subscription.Criterion)

	assert.Equal(t, http.MethodDelete, requests[2].Method)

	assert.Eventually(t, func() bool { return svc.Acks() == 2 }, 2*time.Second, 10*time.Millisecond)

	stats := client.GetStatistics()
	assert.Equal(t, uint64(3), stats.Requests)
	assert.Equal(t, uint64(0), stats.Failures)
	assert.Equal(t, uint64(2), stats.Notifications)
}

func TestClientChunkedResponseAndLocationHeader(t *testing.T) {
	svc := startService(t, locationtest.Behavior{
		Chunked:         true,
		OmitResourceURL: true,
	})
	client := dialService(t, svc, 5*time.Second)

	id, err := client.Subscribe(context.Background(), testSubscription(location.Entering))
	require.NoError(t, err)
	assert.Equal(t, location.SubscriptionID("0"), id)
}

func TestClientSubscribeRejected(t *testing.T) {
	svc := startService(t, locationtest.Behavior{SubscribeStatus: http.StatusServiceUnavailable})
	client := dialService(t, svc, 5*time.Second)

	_, err := client.Subscribe(context.Background(), testSubscription(location.Entering))
	require.Error(t, err)

	var statusErr *location.StatusError
	require.True(t, errors.As(err, &statusErr), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, uint64(1), client.GetStatistics().Failures)
}

func TestClientPeerClosed(t *testing.T) {
	svc := startService(t, locationtest.Behavior{
		CloseAfter: http.MethodPost,
		Positions:  map[location.Criterion]wire.Point{location.Entering: {X: 1, Y: 1}},
	})
	client := dialService(t, svc, 5*time.Second)
	ctx := context.Background()

	_, err := client.Subscribe(ctx, testSubscription(location.Entering))
	require.NoError(t, err)

	_, err = client.NextNotification(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrPeerClosed), "got %v", err)
}

func TestClientReadTimeout(t *testing.T) {
	svc := startService(t, locationtest.Behavior{})
	client := dialService(t, svc, 200*time.Millisecond)
	ctx := context.Background()

	_, err := client.Subscribe(ctx, testSubscription(location.Entering))
	require.NoError(t, err)

	_, err = client.NextNotification(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrTimeout), "got %v", err)
	assert.False(t, errors.Is(err, transport.ErrPeerClosed))
}

func TestClientCancelled(t *testing.T) {
	svc := startService(t, locationtest.Behavior{})
	client := dialService(t, svc, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.NextNotification(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestClientProtocolDesync(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 4096)
		conn.Read(buf)
		// A response with a second message glued to it in one segment
		conn.Write([]byte("HTTP/1.1 201 Created\r\nLocation: /circle/7\r\nContent-Length: 0\r\n\r\nHTTP/1.1 200 OK\r\n"))
		time.Sleep(time.Second)
	}()

	client, err := location.Dial(context.Background(), location.Config{
		Address:     listener.Addr().String(),
		ReadTimeout: 5 * time.Second,
	}, testLogger())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Subscribe(context.Background(), testSubscription(location.Entering))
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpstream.ErrProtocolDesync), "got %v", err)
}

func TestClientClosed(t *testing.T) {
	svc := startService(t, locationtest.Behavior{})
	client := dialService(t, svc, time.Second)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.Subscribe(context.Background(), testSubscription(location.Entering))
	assert.True(t, errors.Is(err, location.ErrClientClosed), "got %v", err)
}

func TestDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	_, err = location.Dial(context.Background(), location.Config{Address: addr, DialTimeout: time.Second}, testLogger())
	assert.Error(t, err)

	_, err = location.Dial(context.Background(), location.Config{}, testLogger())
	assert.Error(t, err)
}
