package deploy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
	"github.com/labsai/EDDI-integration-tests/internal/testutil"
)

// simulatedTimer fires immediately and accumulates the waits it was asked
// for, so poll loops run in simulated time.
type simulatedTimer struct {
	mu      sync.Mutex
	c       chan time.Time
	elapsed time.Duration
}

func (s *simulatedTimer) Start(d time.Duration) {
	s.mu.Lock()
	s.elapsed += d
	s.mu.Unlock()
	s.c = make(chan time.Time, 1)
	s.c <- time.Time{}
}

func (s *simulatedTimer) Stop() {}

func (s *simulatedTimer) C() <-chan time.Time { return s.c }

func (s *simulatedTimer) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

func newTestPoller(t *testing.T, opts ...Option) (*Poller, *testutil.FakeEDDI, *simulatedTimer) {
	t.Helper()
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	c, err := client.New(client.Config{BaseURI: fake.URL()})
	require.NoError(t, err)
	timer := &simulatedTimer{}
	opts = append([]Option{WithTimer(func() backoff.Timer { return timer })}, opts...)
	return NewPoller(c, opts...), fake, timer
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"READY", StatusReady},
		{"  IN_PROGRESS\n", StatusInProgress},
		{`"ERROR"`, StatusError},
		{"ready", StatusReady},
		{"NOT_FOUND", StatusNotFound},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseStatus("DEPLOYING")
	assert.Error(t, err)
	assert.True(t, StatusReady.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusInProgress.Terminal())
}

func TestDeployWaitsForReady(t *testing.T) {
	p, fake, timer := newTestPoller(t)
	id := resource.ID{ID: "bot1", Version: 1}
	fake.SetDeploySequence("bot1", 1, "IN_PROGRESS", "IN_PROGRESS", "IN_PROGRESS", "READY")

	require.NoError(t, p.Deploy(context.Background(), id))

	assert.Equal(t, 4, fake.StatusPolls("bot1", 1), "no poll after READY")
	assert.Equal(t, 3*DefaultInterval, timer.Elapsed())
	triggers, auto := fake.DeployTriggers("bot1", 1)
	assert.Equal(t, 1, triggers)
	assert.Equal(t, []bool{true}, auto)
}

func TestDeployStopsAtError(t *testing.T) {
	p, fake, _ := newTestPoller(t)
	id := resource.ID{ID: "bot2", Version: 3}
	fake.SetDeploySequence("bot2", 3, "IN_PROGRESS", "ERROR", "READY")

	err := p.Deploy(context.Background(), id)
	require.Error(t, err)
	assert.True(t, IsFailed(err))

	var fe *FailedError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, id, fe.ID)
	assert.Equal(t, 2, fake.StatusPolls("bot2", 3), "no poll after ERROR")
}

func TestDeployWithoutAutoDeploy(t *testing.T) {
	p, fake, _ := newTestPoller(t, WithAutoDeploy(false))
	fake.SetDeploySequence("bot3", 1, "READY")

	require.NoError(t, p.Deploy(context.Background(), resource.ID{ID: "bot3", Version: 1}))
	_, auto := fake.DeployTriggers("bot3", 1)
	assert.Equal(t, []bool{false}, auto)
	assert.Equal(t, 1, fake.StatusPolls("bot3", 1))
}

func TestWaitWithoutTriggerIsProtocolError(t *testing.T) {
	p, _, _ := newTestPoller(t)

	status, err := p.Wait(context.Background(), resource.ID{ID: "ghost", Version: 1})
	require.Error(t, err)
	assert.Equal(t, StatusNotFound, status)
	assert.False(t, IsFailed(err))
}

func TestWaitTimesOut(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	c, err := client.New(client.Config{BaseURI: fake.URL()})
	require.NoError(t, err)
	p := NewPoller(c, WithInterval(5*time.Millisecond), WithTimeout(60*time.Millisecond))
	fake.SetDeploySequence("slow", 1, "IN_PROGRESS")

	err = p.Deploy(context.Background(), resource.ID{ID: "slow", Version: 1})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusInProgress, te.Last)
}

func TestWaitHonorsCancellation(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	c, err := client.New(client.Config{BaseURI: fake.URL()})
	require.NoError(t, err)
	p := NewPoller(c, WithInterval(5*time.Millisecond))
	fake.SetDeploySequence("forever", 1, "IN_PROGRESS")

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	err = p.Deploy(ctx, resource.ID{ID: "forever", Version: 1})
	require.Error(t, err)
	assert.False(t, IsTimeout(err), "caller cancellation is not a poller timeout")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeployAll(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	c, err := client.New(client.Config{BaseURI: fake.URL()})
	require.NoError(t, err)
	p := NewPoller(c, WithInterval(time.Millisecond))
	fake.SetDeploySequence("a", 1, "IN_PROGRESS", "READY")
	fake.SetDeploySequence("b", 2, "READY")

	require.NoError(t, p.DeployAll(context.Background(),
		resource.ID{ID: "a", Version: 1},
		resource.ID{ID: "b", Version: 2},
	))
	assert.Equal(t, 2, fake.StatusPolls("a", 1))
	assert.Equal(t, 1, fake.StatusPolls("b", 2))

	fake.SetDeploySequence("c", 1, "ERROR")
	err = p.DeployAll(context.Background(), resource.ID{ID: "c", Version: 1})
	assert.True(t, IsFailed(err))
}
