package alert

import (
	"context"
	"errors"

	"github.com/skypro1111/mec-geofence-alert/internal/location"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

// ErrStopped is returned by Next when the UE asked to stop monitoring.
var ErrStopped = errors.New("monitoring stopped by UE")

// Source produces enter and leave alerts for one session.
type Source interface {
	// Watch arms the criterion. The first call establishes monitoring,
	// later calls change what is monitored.
	Watch(ctx context.Context, criterion location.Criterion) error

	// Next blocks until the armed criterion fires.
	Next(ctx context.Context) (wire.Alert, error)

	// Layout is the alert datagram layout of this variant.
	Layout() wire.AlertLayout

	// Close releases everything the source holds.
	Close() error
}

// Kind names a Source variant in configuration.
type Kind string

const (
	KindSubscription Kind = "subscription"
	KindDirect       Kind = "direct"
)

// DefaultLayout returns the layout a variant uses unless configured.
func (k Kind) DefaultLayout() wire.AlertLayout {
	if k == KindDirect {
		return wire.LayoutFlagBeforeLength
	}
	return wire.LayoutFlagAfterLength
}

// Valid reports whether k names a known variant.
func (k Kind) Valid() bool {
	return k == KindSubscription || k == KindDirect
}
