package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLockerIsDisabled(t *testing.T) {
	locker := NewLocker(nil)
	require.Nil(t, locker)
	assert.False(t, locker.Enabled())

	_, ok, err := locker.TryLock(context.Background(), "key", time.Second)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, ok)

	assert.NoError(t, locker.Release(context.Background(), "key", "token"))
}
