package ratelimit

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kyleking/insight-query/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCheckAndRecordDeniesAfterLimit(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	l := New(3, WithClock(clock.Now))

	for i := range 3 {
		ok, wait := l.CheckAndRecord("alice")
		require.True(t, ok, "call %d", i+1)
		assert.Zero(t, wait)
		clock.Advance(time.Second)
	}

	ok, wait := l.CheckAndRecord("alice")
	assert.False(t, ok)
	assert.Equal(t, 57*time.Second, wait)

	// a denied call is not recorded
	assert.Equal(t, 0, l.Remaining("alice"))
	clock.Advance(57 * time.Second)
	assert.Equal(t, 1, l.Remaining("alice"))
}

func TestWindowBoundaryIsExclusive(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	l := New(1, WithClock(clock.Now))

	ok, _ := l.CheckAndRecord("bob")
	require.True(t, ok)

	clock.Advance(DefaultWindow - time.Nanosecond)
	ok, _ = l.CheckAndRecord("bob")
	assert.False(t, ok)

	// exactly one window old no longer counts
	clock.Advance(time.Nanosecond)
	ok, _ = l.CheckAndRecord("bob")
	assert.True(t, ok)
}

func TestClockJumpClearsWindow(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.TestEpoch)
	l := New(2, WithClock(clock.Now))

	for range 2 {
		ok, _ := l.CheckAndRecord("dana")
		require.True(t, ok)
	}

	ok, _ := l.CheckAndRecord("dana")
	require.False(t, ok)

	clock.Set(testutil.TestEpoch.Add(61 * time.Second))
	assert.Equal(t, 2, l.Remaining("dana"))

	ok, wait := l.CheckAndRecord("dana")
	assert.True(t, ok)
	assert.Zero(t, wait)
}

func TestIdentitiesAreIndependent(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	l := New(1, WithClock(clock.Now))

	ok, _ := l.CheckAndRecord("alice")
	require.True(t, ok)

	ok, _ = l.CheckAndRecord("bob")
	assert.True(t, ok)

	ok, _ = l.CheckAndRecord("alice")
	assert.False(t, ok)
}

func TestCustomWindow(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	l := New(2, WithWindow(10*time.Second), WithClock(clock.Now))

	l.CheckAndRecord("c")
	l.CheckAndRecord("c")

	ok, wait := l.CheckAndRecord("c")
	require.False(t, ok)
	assert.Equal(t, 10*time.Second, wait)

	clock.Advance(10 * time.Second)
	ok, _ = l.CheckAndRecord("c")
	assert.True(t, ok)
}

func TestDisabledLimiter(t *testing.T) {
	for _, limit := range []int{0, -1} {
		t.Run(fmt.Sprint(limit), func(t *testing.T) {
			l := New(limit)
			for range 100 {
				ok, _ := l.CheckAndRecord("anyone")
				require.True(t, ok)
			}

			assert.Equal(t, -1, l.Remaining("anyone"))
		})
	}
}

func TestConcurrentCallsNeverExceedLimit(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	l := New(testutil.TestRateLimit, WithClock(clock.Now))

	var admitted atomic.Int32

	testutil.RunConcurrent(t, testutil.TestWorkers, func(_ int) {
		if ok, _ := l.CheckAndRecord(testutil.TestIdentity); ok {
			admitted.Add(1)
		}
	})

	assert.Equal(t, int32(testutil.TestRateLimit), admitted.Load())
}

func TestConcurrentIdentities(t *testing.T) {
	l := New(2)

	results := testutil.CollectConcurrent(t, testutil.TestWorkers, func(id int) bool {
		ok, _ := l.CheckAndRecord(fmt.Sprintf("user-%d", id%10))
		return ok
	})

	admitted := 0
	for _, ok := range results {
		if ok {
			admitted++
		}
	}

	assert.Equal(t, 20, admitted)
}
