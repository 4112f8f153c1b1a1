package dbport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAfterErrorThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		ErrorThreshold:   0.5,
		RequestThreshold: 4,
		OpenTimeout:      time.Hour,
		HalfOpenRequests: 1,
	}, nil)

	fail := errors.New("boom")
	// 3 failures stay below the request threshold; the 4th failure makes
	// total 4, meeting the threshold with error rate 1.0 > 0.5.
	for i := 0; i < 3; i++ {
		err := b.Guard(context.Background(), func(context.Context) error { return fail })
		assert.Equal(t, fail, err)
	}
	require.Equal(t, StateClosed, b.State())

	err := b.Guard(context.Background(), func(context.Context) error { return fail })
	assert.Equal(t, fail, err)
	assert.Equal(t, StateOpen, b.State())

	// Further calls fail fast without invoking fn.
	called := false
	err = b.Guard(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.Equal(t, ErrBreakerOpen, err)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecoversToClosed(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		ErrorThreshold:   0.5,
		RequestThreshold: 1,
		OpenTimeout:      10 * time.Millisecond,
		HalfOpenRequests: 1,
	}, nil)

	_ = b.Guard(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	err := b.Guard(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		ErrorThreshold:   0.5,
		RequestThreshold: 1,
		OpenTimeout:      10 * time.Millisecond,
		HalfOpenRequests: 1,
	}, nil)

	_ = b.Guard(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	err := b.Guard(context.Background(), func(context.Context) error { return errors.New("still broken") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
}
