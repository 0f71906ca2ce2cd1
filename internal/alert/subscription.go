package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/mec-geofence-alert/internal/location"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

const deleteTimeout = 5 * time.Second

// SubscriptionConfig configures subscription-backed sources.
type SubscriptionConfig struct {
	Location location.Config

	// Template carries the fixed subscription fields (callback, notify URL,
	// correlator, frequency, accuracy). Criterion, circle and address are
	// filled per session.
	Template location.Subscription

	// DeleteOnClose removes the subscription when the source closes.
	DeleteOnClose bool

	Layout wire.AlertLayout
}

// SubscriptionSource reports alerts from Location service notifications.
type SubscriptionSource struct {
	config  SubscriptionConfig
	circle  wire.Circle
	address string
	logger  *slog.Logger

	client *location.Client
	id     location.SubscriptionID
	armed  location.Criterion
	broken bool
}

// NewSubscriptionSource creates a source for one UE. The Location service
// connection is opened by the first Watch.
func NewSubscriptionSource(config SubscriptionConfig, circle wire.Circle, ueAddress string, logger *slog.Logger) *SubscriptionSource {
	return &SubscriptionSource{
		config:  config,
		circle:  circle,
		address: ueAddress,
		logger:  logger,
	}
}

// Watch subscribes on the first call and modifies the subscription after.
func (s *SubscriptionSource) Watch(ctx context.Context, criterion location.Criterion) error {
	if !criterion.Valid() {
		return fmt.Errorf("invalid criterion %q", criterion)
	}

	if s.client == nil {
		client, err := location.Dial(ctx, s.config.Location, s.logger)
		if err != nil {
			s.broken = true
			return err
		}
		s.client = client
	}

	sub := s.config.Template
	sub.Criterion = criterion
	sub.Circle = s.circle
	sub.Address = s.address

	if s.id == "" {
		id, err := s.client.Subscribe(ctx, sub)
		if err != nil {
			s.broken = true
			return err
		}
		s.id = id
	} else if err := s.client.Modify(ctx, s.id, sub); err != nil {
		s.broken = true
		return err
	}

	s.armed = criterion
	return nil
}

// Next waits for the notification of the armed criterion.
func (s *SubscriptionSource) Next(ctx context.Context) (wire.Alert, error) {
	if s.client == nil || s.armed == "" {
		return wire.Alert{}, fmt.Errorf("source is not watching")
	}

	n, err := s.client.NextNotification(ctx)
	if err != nil {
		s.broken = true
		return wire.Alert{}, err
	}

	if n.Criterion != "" && n.Criterion != s.armed {
		s.logger.Warn("Notification criterion differs from armed criterion",
			slog.String("armed", string(s.armed)),
			slog.String("notified", string(n.Criterion)))
	}

	return wire.Alert{
		Entered:  s.armed == location.Entering,
		Position: n.Position,
	}, nil
}

// Layout returns the configured alert layout
func (s *SubscriptionSource) Layout() wire.AlertLayout {
	return s.config.Layout
}

// SubscriptionID returns the id of the live subscription, if any.
func (s *SubscriptionSource) SubscriptionID() location.SubscriptionID {
	return s.id
}

// Close deletes the subscription when configured and the connection is
// still healthy, then closes the connection.
func (s *SubscriptionSource) Close() error {
	if s.client == nil {
		return nil
	}

	if s.config.DeleteOnClose && s.id != "" && !s.broken {
		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		if err := s.client.Delete(ctx, s.id); err != nil {
			s.logger.Warn("Failed to delete subscription",
				slog.String("subscription_id", string(s.id)),
				slog.String("error", err.Error()))
		}
		cancel()
	}

	return s.client.Close()
}
