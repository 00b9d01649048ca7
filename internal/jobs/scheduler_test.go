package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockOwnerLister struct {
	ListOwnersWithOpenDraftsFunc func(ctx context.Context) ([]string, error)
}

func (m *MockOwnerLister) ListOwnersWithOpenDrafts(ctx context.Context) ([]string, error) {
	return m.ListOwnersWithOpenDraftsFunc(ctx)
}

type MockReclassifier struct {
	ClassifyAllOpenFunc func(ctx context.Context, ownerID string) (int, error)
}

func (m *MockReclassifier) ClassifyAllOpen(ctx context.Context, ownerID string) (int, error) {
	return m.ClassifyAllOpenFunc(ctx, ownerID)
}

func TestSweepOpenDrafts(t *testing.T) {
	owners := &MockOwnerLister{
		ListOwnersWithOpenDraftsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"o1", "o2", "o3"}, nil
		},
	}
	var seen []string
	reclassifier := &MockReclassifier{
		ClassifyAllOpenFunc: func(ctx context.Context, ownerID string) (int, error) {
			seen = append(seen, ownerID)
			if ownerID == "o2" {
				return 0, errors.New("boom")
			}
			return 2, nil
		},
	}

	require.NoError(t, SweepOpenDrafts(context.Background(), owners, reclassifier, zerolog.Nop()))
	assert.Equal(t, []string{"o1", "o2", "o3"}, seen)
}

func TestSweepOpenDrafts_Errors(t *testing.T) {
	failing := &MockOwnerLister{
		ListOwnersWithOpenDraftsFunc: func(ctx context.Context) ([]string, error) {
			return nil, errors.New("query failed")
		},
	}
	err := SweepOpenDrafts(context.Background(), failing, &MockReclassifier{}, zerolog.Nop())
	assert.ErrorContains(t, err, "list owners")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	owners := &MockOwnerLister{
		ListOwnersWithOpenDraftsFunc: func(ctx context.Context) ([]string, error) { return []string{"o1"}, nil },
	}
	called := false
	reclassifier := &MockReclassifier{
		ClassifyAllOpenFunc: func(ctx context.Context, ownerID string) (int, error) {
			called = true
			return 0, nil
		},
	}
	assert.ErrorIs(t, SweepOpenDrafts(ctx, owners, reclassifier, zerolog.Nop()), context.Canceled)
	assert.False(t, called)
}

func TestScheduler(t *testing.T) {
	s := NewScheduler(nil, zerolog.Nop())
	owners := &MockOwnerLister{
		ListOwnersWithOpenDraftsFunc: func(ctx context.Context) ([]string, error) { return nil, nil },
	}

	assert.Error(t, s.AddSweep("not a schedule", owners, &MockReclassifier{}))
	require.NoError(t, s.AddSweep("*/30 * * * *", owners, &MockReclassifier{}))

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
