package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/events"
)

type fakeSLAStore struct {
	ids []string
	err error
}

func (f *fakeSLAStore) MarkSLABreached(ctx context.Context, now time.Time) ([]string, error) {
	return f.ids, f.err
}

type capturePublisher struct {
	mu       sync.Mutex
	types    []events.EventType
	alertIDs []string
}

func (c *capturePublisher) Publish(ctx context.Context, eventType events.EventType, alertID string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = append(c.types, eventType)
	c.alertIDs = append(c.alertIDs, alertID)
	return nil
}

func TestSLASweepPublishesPerBreach(t *testing.T) {
	store := &fakeSLAStore{ids: []string{"alert-1", "alert-2"}}
	publisher := &capturePublisher{}

	count, err := NewSLATracker(zap.NewNop(), store, publisher).Sweep(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, []events.EventType{events.EventSLABreached, events.EventSLABreached}, publisher.types)
	require.Equal(t, []string{"alert-1", "alert-2"}, publisher.alertIDs)
}

func TestSLASweepNothingBreached(t *testing.T) {
	publisher := &capturePublisher{}
	count, err := NewSLATracker(zap.NewNop(), &fakeSLAStore{}, publisher).Sweep(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Zero(t, count)
	require.Empty(t, publisher.types)
}

func TestSLASweepStoreFailure(t *testing.T) {
	_, err := NewSLATracker(zap.NewNop(), &fakeSLAStore{err: errors.New("db closed")}, &capturePublisher{}).
		Sweep(context.Background(), time.Now().UTC())
	require.Error(t, err)
}
