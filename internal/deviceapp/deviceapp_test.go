package deviceapp

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/mec-geofence-alert/internal/transport"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startRegistry(t *testing.T, apps map[string]string) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{BindAddress: "127.0.0.1", Apps: apps}, testLogger())
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func newClientEndpoint(t *testing.T) *transport.Endpoint {
	t.Helper()
	ep, err := transport.Listen("127.0.0.1", 0, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })
	return ep
}

func TestRegistryRegisterDeregister(t *testing.T) {
	srv := startRegistry(t, map[string]string{"MECWarningAlertApp": "127.0.0.1:4022"})
	client := NewClient(newClientEndpoint(t), srv.Addr(), 2*time.Second, testLogger())
	ctx := context.Background()

	var registry Registry = client

	endpoint, err := registry.Register(ctx, "MECWarningAlertApp")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4022", endpoint)

	require.NoError(t, registry.Deregister(ctx, "MECWarningAlertApp"))

	stats := srv.GetStatistics()
	assert.Equal(t, uint64(1), stats.Registrations)
	assert.Equal(t, uint64(1), stats.Deregistrations)
	assert.Equal(t, uint64(0), stats.Refusals)
}

func TestRegistryRefusesUnknownApp(t *testing.T) {
	srv := startRegistry(t, map[string]string{"MECWarningAlertApp": "127.0.0.1:4022"})
	client := NewClient(newClientEndpoint(t), srv.Addr(), 2*time.Second, testLogger())

	_, err := client.Register(context.Background(), "OtherApp")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRegistrationRefused), "got %v", err)
	assert.Equal(t, uint64(1), srv.GetStatistics().Refusals)
}

func TestRegistryUnrecognizedCode(t *testing.T) {
	srv := startRegistry(t, nil)
	ep := newClientEndpoint(t)

	require.NoError(t, ep.SendMessage(srv.Addr(), 42, nil))
	require.NoError(t, ep.Send(srv.Addr(), []byte{0x00}))

	assert.Eventually(t, func() bool {
		return srv.GetStatistics().Unrecognized == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err := ep.Receive(context.Background(), 200*time.Millisecond)
	assert.True(t, errors.Is(err, transport.ErrTimeout), "no reply to unrecognized codes")
}

func TestClientTimeoutAndFiltering(t *testing.T) {
	fakeRegistry := newClientEndpoint(t)
	stranger := newClientEndpoint(t)
	ep := newClientEndpoint(t)
	client := NewClient(ep, fakeRegistry.LocalAddr(), 300*time.Millisecond, testLogger())

	// The stranger answers with a valid-looking endpoint, which must be ignored
	require.NoError(t, stranger.SendMessage(ep.LocalAddr(), wire.CodeRegister, []byte("10.9.9.9:1")))

	_, err := client.Register(context.Background(), "MECWarningAlertApp")
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrTimeout), "got %v", err)

	dg, err := fakeRegistry.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	msg, err := wire.Decode(dg.Data)
	require.NoError(t, err)
	assert.Equal(t, wire.CodeRegister, msg.Code)
	assert.Equal(t, "MECWarningAlertApp", string(msg.Payload))
}

func TestClientSkipsWrongReplyCode(t *testing.T) {
	fakeRegistry := newClientEndpoint(t)
	ep := newClientEndpoint(t)
	client := NewClient(ep, fakeRegistry.LocalAddr(), 2*time.Second, testLogger())

	go func() {
		dg, err := fakeRegistry.Receive(context.Background(), 2*time.Second)
		if err != nil {
			return
		}
		fakeRegistry.SendMessage(dg.From, wire.CodeAlert, nil)
		fakeRegistry.Send(dg.From, []byte{wire.CodeRegister, 99})
		fakeRegistry.SendMessage(dg.From, wire.CodeRegister, []byte("10.0.0.5:4022"))
	}()

	endpoint, err := client.Register(context.Background(), "MECWarningAlertApp")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:4022", endpoint)
	assert.Equal(t, fakeRegistry.LocalAddr(), client.Address())
}

func TestNewServerValidation(t *testing.T) {
	tests := []struct {
		name string
		apps map[string]string
	}{
		{name: "empty app name", apps: map[string]string{"": "127.0.0.1:4022"}},
		{name: "missing port", apps: map[string]string{"app": "127.0.0.1"}},
		{name: "empty endpoint", apps: map[string]string{"app": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServer(ServerConfig{BindAddress: "127.0.0.1", Apps: tt.apps}, testLogger())
			assert.Error(t, err)
		})
	}
}
