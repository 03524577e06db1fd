package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/cdx"
	"github.com/sliver-archive/sliver/internal/collections"
	"github.com/sliver-archive/sliver/internal/progress"
)

type MockSession struct {
	mock.Mock
}

func (m *MockSession) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) SetDefaultTimestamp(ts cdx.Timestamp) error {
	return m.Called(ts).Error(0)
}

func (m *MockSession) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) URL() string {
	return m.Called().String(0)
}

type MockShooter struct {
	mock.Mock
}

func (m *MockShooter) Shoot(ctx context.Context, jobFile, proxyURL string, batchID [16]byte) error {
	return m.Called(ctx, jobFile, proxyURL, batchID).Error(0)
}

// captureSink records delivered progress events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (s *captureSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func (s *captureSink) Events() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Event(nil), s.events...)
}

func testLayout(t *testing.T) collections.Layout {
	t.Helper()
	return collections.NewLayout(filepath.Join(t.TempDir(), "mementos"))
}

func TestOrchestratorRun(t *testing.T) {
	layout := testLayout(t)
	session := &MockSession{}
	shooter := &MockShooter{}

	var (
		started      bool
		artifactPath string
		seenJobs     []Job
	)
	session.On("Start", mock.Anything).Run(func(mock.Arguments) { started = true }).Return(nil)
	session.On("SetDefaultTimestamp", cdx.Timestamp("20200101000000")).Return(nil)
	session.On("URL").Return("http://127.0.0.1:8080")
	session.On("Stop", mock.Anything).Return(nil)
	shooter.On("Shoot", mock.Anything, mock.Anything, "http://127.0.0.1:8080", mock.Anything).
		Run(func(args mock.Arguments) {
			require.True(t, started, "shooter ran before the session started")
			artifactPath = args.String(1)
			jobs, err := ReadJobFile(artifactPath)
			require.NoError(t, err)
			seenJobs = jobs
		}).
		Return(nil)

	o := NewOrchestrator(layout, session, shooter, nil, nil)
	lines := []string{"https://a.example/", "", "# comment", "https://b.example/"}
	err := o.Run(context.Background(), lines, "20200101000000", JobDefaults{})
	require.NoError(t, err)

	session.AssertExpectations(t)
	shooter.AssertExpectations(t)
	session.AssertNumberOfCalls(t, "Stop", 1)

	// The shooter saw the serialized batch in order.
	require.Len(t, seenJobs, 2)
	assert.Equal(t, "https://a.example/", seenJobs[0].URL)
	assert.Equal(t, "https://b.example/", seenJobs[1].URL)
	assert.Equal(t, filepath.Join(layout.Screenshots(), "a-example.png"), seenJobs[0].Output)

	// The transient artifact is gone after the run.
	_, statErr := os.Stat(artifactPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "artifact still present: %v", statErr)

	// The collections tree was prepared.
	info, statErr := os.Stat(layout.Screenshots())
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestOrchestratorStopsSessionOnShooterFailure(t *testing.T) {
	layout := testLayout(t)
	session := &MockSession{}
	shooter := &MockShooter{}

	session.On("Start", mock.Anything).Return(nil)
	session.On("SetDefaultTimestamp", mock.Anything).Return(nil)
	session.On("URL").Return("http://127.0.0.1:8080")
	session.On("Stop", mock.Anything).Return(nil)
	shooter.On("Shoot", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("3 of 5 jobs failed"))

	o := NewOrchestrator(layout, session, shooter, nil, nil)
	err := o.Run(context.Background(), []string{"https://a.example/"}, "20200101000000", JobDefaults{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture batch")
	session.AssertNumberOfCalls(t, "Stop", 1)
}

func TestOrchestratorStartFailureSkipsShooting(t *testing.T) {
	layout := testLayout(t)
	session := &MockSession{}
	shooter := &MockShooter{}

	session.On("Start", mock.Anything).Return(errors.New("port in use"))

	o := NewOrchestrator(layout, session, shooter, nil, nil)
	err := o.Run(context.Background(), []string{"https://a.example/"}, "20200101000000", JobDefaults{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start proxy session")

	session.AssertNotCalled(t, "Stop", mock.Anything)
	shooter.AssertNotCalled(t, "Shoot", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestratorEmptyInputSkipsSession(t *testing.T) {
	layout := testLayout(t)
	session := &MockSession{}
	shooter := &MockShooter{}

	o := NewOrchestrator(layout, session, shooter, nil, nil)
	err := o.Run(context.Background(), []string{"", "# only comments"}, "20200101000000", JobDefaults{})
	require.NoError(t, err)

	session.AssertNotCalled(t, "Start", mock.Anything)
	shooter.AssertNotCalled(t, "Shoot", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestratorSurfacesStopFailure(t *testing.T) {
	layout := testLayout(t)
	session := &MockSession{}
	shooter := &MockShooter{}

	session.On("Start", mock.Anything).Return(nil)
	session.On("SetDefaultTimestamp", mock.Anything).Return(nil)
	session.On("URL").Return("http://127.0.0.1:8080")
	session.On("Stop", mock.Anything).Return(errors.New("shutdown deadline exceeded"))
	shooter.On("Shoot", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	o := NewOrchestrator(layout, session, shooter, nil, nil)
	err := o.Run(context.Background(), []string{"https://a.example/"}, "20200101000000", JobDefaults{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop proxy session")
}

func TestOrchestratorTimestampPinFailureStillStops(t *testing.T) {
	layout := testLayout(t)
	session := &MockSession{}
	shooter := &MockShooter{}

	session.On("Start", mock.Anything).Return(nil)
	session.On("SetDefaultTimestamp", mock.Anything).Return(errors.New("session stopped"))
	session.On("Stop", mock.Anything).Return(nil)

	o := NewOrchestrator(layout, session, shooter, nil, nil)
	err := o.Run(context.Background(), []string{"https://a.example/"}, "20200101000000", JobDefaults{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pin session timestamp")
	session.AssertNumberOfCalls(t, "Stop", 1)
	shooter.AssertNotCalled(t, "Shoot", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestratorEmitsBatchEvents(t *testing.T) {
	layout := testLayout(t)
	session := &MockSession{}
	shooter := &MockShooter{}

	session.On("Start", mock.Anything).Return(nil)
	session.On("SetDefaultTimestamp", mock.Anything).Return(nil)
	session.On("URL").Return("http://127.0.0.1:8080")
	session.On("Stop", mock.Anything).Return(nil)
	shooter.On("Shoot", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	sink := &captureSink{}
	hub := progress.NewHub(zap.NewNop(), sink)

	o := NewOrchestrator(layout, session, shooter, hub, nil)
	lines := []string{"https://a.example/", "https://b.example/"}
	require.NoError(t, o.Run(context.Background(), lines, "20200101000000", JobDefaults{}))
	require.NoError(t, hub.Close(context.Background()))

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, progress.StageBatchStart, events[0].Stage)
	assert.Equal(t, 2, events[0].Jobs)
	assert.Equal(t, progress.StageBatchDone, events[1].Stage)
	assert.Empty(t, events[1].Note)
	assert.Equal(t, events[0].BatchID, events[1].BatchID)
	assert.NotEqual(t, [16]byte{}, events[0].BatchID)

	// The shooter was handed the same batch ID the events carry.
	shootArgs := shooter.Calls[0].Arguments
	assert.Equal(t, events[0].BatchID, shootArgs.Get(3).([16]byte))
}

func TestOrchestratorBatchEventsCarryFailureNote(t *testing.T) {
	layout := testLayout(t)
	session := &MockSession{}
	shooter := &MockShooter{}

	session.On("Start", mock.Anything).Return(nil)
	session.On("SetDefaultTimestamp", mock.Anything).Return(nil)
	session.On("URL").Return("http://127.0.0.1:8080")
	session.On("Stop", mock.Anything).Return(nil)
	shooter.On("Shoot", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("browser crashed"))

	sink := &captureSink{}
	hub := progress.NewHub(zap.NewNop(), sink)

	o := NewOrchestrator(layout, session, shooter, hub, nil)
	err := o.Run(context.Background(), []string{"https://a.example/"}, "20200101000000", JobDefaults{})
	require.Error(t, err)
	require.NoError(t, hub.Close(context.Background()))

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, progress.StageBatchDone, events[1].Stage)
	assert.Contains(t, events[1].Note, "browser crashed")
}
