package room

import (
	"testing"
	"time"

	"SyncFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可手动推进的时间源
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestClock() (*PlaybackClock, *fakeClock) {
	fc := newFakeClock()
	c := NewPlaybackClock()
	c.now = fc.Now
	return c, fc
}

func testTrack(duration float64) *model.Track {
	return &model.Track{ID: 1, Title: "Test", Artist: "Tester", Duration: duration}
}

func TestClockStartsStopped(t *testing.T) {
	c, _ := newTestClock()
	assert.Equal(t, model.PlayStateStopped, c.State())
	assert.Nil(t, c.CurrentTrack())
	assert.Equal(t, 0.0, c.CurrentPosition())
}

func TestPositionAdvancesWhilePlaying(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(300), 0)

	fc.Advance(5 * time.Second)
	assert.InDelta(t, 5.0, c.CurrentPosition(), 1e-9)

	fc.Advance(2500 * time.Millisecond)
	assert.InDelta(t, 7.5, c.CurrentPosition(), 1e-9)
}

func TestPlayFromStartPosition(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(300), 42)

	fc.Advance(3 * time.Second)
	assert.InDelta(t, 45.0, c.CurrentPosition(), 1e-9)

	// 负的起始位置收敛到 0
	c.PlayTrack(testTrack(300), -5)
	assert.Equal(t, 0.0, c.CurrentPosition())
}

func TestPauseFreezesPosition(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(300), 0)
	fc.Advance(10 * time.Second)

	c.Pause()
	assert.Equal(t, model.PlayStatePaused, c.State())
	assert.InDelta(t, 10.0, c.CurrentPosition(), 1e-9)

	// 暂停期间位置不动
	fc.Advance(time.Minute)
	assert.InDelta(t, 10.0, c.CurrentPosition(), 1e-9)
}

func TestPauseClampsToDuration(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(30), 0)
	fc.Advance(45 * time.Second)

	c.Pause()
	assert.InDelta(t, 30.0, c.CurrentPosition(), 1e-9)
}

func TestPauseWhenNotPlayingIsNoOp(t *testing.T) {
	c, _ := newTestClock()
	c.Pause()
	assert.Equal(t, model.PlayStateStopped, c.State())
}

func TestResumeContinuesFromFrozenPosition(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(300), 0)
	fc.Advance(10 * time.Second)
	c.Pause()
	fc.Advance(time.Hour)

	c.Resume()
	assert.Equal(t, model.PlayStatePlaying, c.State())
	fc.Advance(5 * time.Second)
	assert.InDelta(t, 15.0, c.CurrentPosition(), 1e-9)
}

func TestResumeWhilePlayingKeepsPosition(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(300), 0)
	fc.Advance(10 * time.Second)

	// 播放中重复 resume 不得重置计时起点
	c.Resume()
	assert.Equal(t, model.PlayStatePlaying, c.State())
	assert.InDelta(t, 10.0, c.CurrentPosition(), 1e-9)

	fc.Advance(5 * time.Second)
	assert.InDelta(t, 15.0, c.CurrentPosition(), 1e-9)
}

func TestResumeWithoutTrackIsNoOp(t *testing.T) {
	c, _ := newTestClock()
	c.Resume()
	assert.Equal(t, model.PlayStateStopped, c.State())
}

func TestStopUnloadsTrack(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(300), 0)
	fc.Advance(10 * time.Second)

	c.Stop()
	assert.Equal(t, model.PlayStateStopped, c.State())
	assert.Nil(t, c.CurrentTrack())
	assert.Equal(t, 0.0, c.CurrentPosition())
}

func TestSeekClampsToTrackBounds(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(120), 0)

	c.Seek(-3)
	assert.Equal(t, 0.0, c.CurrentPosition())

	c.Seek(500)
	assert.InDelta(t, 120.0, c.CurrentPosition(), 1e-9)

	c.Seek(60)
	fc.Advance(2 * time.Second)
	assert.InDelta(t, 62.0, c.CurrentPosition(), 1e-9)
}

func TestSeekKeepsStateWhilePaused(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(120), 0)
	c.Pause()

	c.Seek(30)
	assert.Equal(t, model.PlayStatePaused, c.State())
	fc.Advance(10 * time.Second)
	assert.InDelta(t, 30.0, c.CurrentPosition(), 1e-9)
}

func TestVolumeClamped(t *testing.T) {
	c, _ := newTestClock()
	assert.Equal(t, 0.5, c.SetVolume(0.5))
	assert.Equal(t, 0.0, c.SetVolume(-1))
	assert.Equal(t, 1.0, c.SetVolume(2))
}

func TestToggleModes(t *testing.T) {
	c, _ := newTestClock()
	assert.True(t, c.ToggleRepeatSingle())
	assert.False(t, c.ToggleRepeatSingle())
	assert.True(t, c.ToggleLoopPlaylist())
	assert.False(t, c.ToggleLoopPlaylist())
}

func TestLoopWindowWrapsPosition(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(300), 0)
	c.ToggleRepeatSingle()
	c.SetLoopPoints(10, 15)

	// 12 秒流逝：10 + mod(12-10, 5) = 12
	fc.Advance(12 * time.Second)
	assert.InDelta(t, 12.0, c.CurrentPosition(), 1e-9)

	// 17 秒流逝：10 + mod(7, 5) = 12
	fc.Advance(5 * time.Second)
	assert.InDelta(t, 12.0, c.CurrentPosition(), 1e-9)
}

func TestLoopWindowInactiveWithoutRepeatSingle(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(300), 0)
	c.SetLoopPoints(10, 15)

	fc.Advance(20 * time.Second)
	assert.InDelta(t, 20.0, c.CurrentPosition(), 1e-9)
}

func TestClearLoopPoints(t *testing.T) {
	c, fc := newTestClock()
	c.PlayTrack(testTrack(300), 0)
	c.ToggleRepeatSingle()
	c.SetLoopPoints(10, 15)
	c.ClearLoopPoints()

	fc.Advance(20 * time.Second)
	assert.InDelta(t, 20.0, c.CurrentPosition(), 1e-9)
}

func TestSnapshotCarriesDerivedPosition(t *testing.T) {
	c, fc := newTestClock()
	track := testTrack(300)
	c.PlayTrack(track, 0)
	fc.Advance(8 * time.Second)

	snap := c.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, track, snap.Track)
	assert.Equal(t, model.PlayStatePlaying, snap.State)
	assert.InDelta(t, 8.0, snap.Position, 1e-9)
	assert.Equal(t, 1.0, snap.Volume)
	assert.Equal(t, fc.Now().UnixMilli(), snap.UpdatedAt)
}
