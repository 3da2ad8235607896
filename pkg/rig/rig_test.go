package rig

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itohio/lickrig/pkg/actuator"
	"github.com/itohio/lickrig/pkg/config"
	"github.com/itohio/lickrig/pkg/encoder"
	"github.com/itohio/lickrig/pkg/session"
	"github.com/itohio/lickrig/pkg/telemetry"
	"github.com/itohio/lickrig/pkg/touch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	mu        sync.Mutex
	in        [][]byte
	out       bytes.Buffer
	connected bool
}

func newFakeLink(chunks ...string) *fakeLink {
	l := &fakeLink{connected: true}
	for _, c := range chunks {
		l.in = append(l.in, []byte(c))
	}
	return l
}

func (l *fakeLink) Connect() error { return nil }
func (l *fakeLink) Close() error   { return nil }

// Poll hands out one queued chunk per call.
func (l *fakeLink) Poll() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.in) == 0 {
		return nil
	}
	p := l.in[0]
	l.in = l.in[1:]
	return p
}

func (l *fakeLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Write(p)
}

func (l *fakeLink) IsConnected() bool { return l.connected }

func (l *fakeLink) send(s string) {
	l.mu.Lock()
	l.in = append(l.in, []byte(s))
	l.mu.Unlock()
}

// take returns and clears everything written so far.
func (l *fakeLink) take() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.out.String()
	l.out.Reset()
	return s
}

type fakeOutput struct{ on *bool }

func (o fakeOutput) Set(on bool) error {
	*o.on = on
	return nil
}

type fakeBoard struct {
	raw     [2]uint16
	photo   bool
	outputs [actuator.NumChannels]bool
	wheel   *encoder.Tracker
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{raw: [2]uint16{1000, 1000}}
}

func (b *fakeBoard) ReadRaw(ch touch.Channel) (uint16, error) {
	if ch < 0 || int(ch) >= len(b.raw) {
		return 0, errors.New("no such channel")
	}
	return b.raw[ch], nil
}

func (b *fakeBoard) AttachEncoder(t *encoder.Tracker) error {
	b.wheel = t
	t.Init(false, false)
	return nil
}

func (b *fakeBoard) Photodiode() (bool, error) { return b.photo, nil }

func (b *fakeBoard) Output(ch actuator.ChannelID) actuator.Output {
	if ch >= actuator.Servo {
		return nil
	}
	return fakeOutput{on: &b.outputs[ch]}
}

func (b *fakeBoard) Close() error { return nil }

type fakeServo struct{ angles []int }

func (s *fakeServo) SetAngle(deg int) error {
	s.angles = append(s.angles, deg)
	return nil
}

type harness struct {
	rig       *Rig
	board     *fakeBoard
	cmd       *fakeLink
	secondary *fakeLink
	dir       string
	now       time.Time
	tick      time.Duration
}

func newHarness(t *testing.T, tweak func(*config.Config, *Options)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Session.Dir = filepath.Join(t.TempDir(), "sessions")

	h := &harness{
		board:     newFakeBoard(),
		cmd:       newFakeLink(),
		secondary: newFakeLink(),
		dir:       cfg.Session.Dir,
		now:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		tick:      cfg.Loop.Tick,
	}
	opts := Options{
		Config:    cfg,
		Board:     h.board,
		Command:   h.cmd,
		Secondary: h.secondary,
		Storage:   session.NewDirStorage(cfg.Session.Dir),
	}
	if tweak != nil {
		tweak(cfg, &opts)
	}
	r, err := New(opts, h.now)
	require.NoError(t, err)
	h.rig = r
	r.Boot()
	return h
}

func (h *harness) step(n int) {
	for i := 0; i < n; i++ {
		h.rig.Tick(h.now)
		h.now = h.now.Add(h.tick)
	}
}

// do sends one command chunk and runs the tick that dispatches it.
func (h *harness) do(line string) string {
	h.cmd.take()
	h.cmd.send(line)
	h.step(1)
	return h.cmd.take()
}

func TestNew_RequiresParts(t *testing.T) {
	_, err := New(Options{}, time.Now())
	assert.Error(t, err)
	_, err = New(Options{Board: newFakeBoard()}, time.Now())
	assert.Error(t, err)
	_, err = New(Options{Board: newFakeBoard(), Command: newFakeLink()}, time.Now())
	assert.Error(t, err)
}

func TestBoot(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "0\tprotocol_v1\n", h.cmd.take())
	assert.NotNil(t, h.board.wheel)
	assert.InDelta(t, 1000, h.rig.Detector().Baseline(touch.Left), 0.01)
	assert.InDelta(t, 1100, h.rig.Detector().Threshold(touch.Right), 0.01)
	assert.True(t, h.rig.Recorder().Storage().Mounted())
}

func TestBoot_StorageMountFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	h := newHarness(t, func(cfg *config.Config, opts *Options) {
		opts.Storage = session.NewDirStorage(blocker)
	})
	assert.Equal(t, "0\tprotocol_v1\nERROR: storage not mounted\n", h.cmd.take())

	out := h.do("start_session,1\n")
	assert.Equal(t, "ERROR: start session_1.bin: storage not mounted\n", out)
	assert.False(t, h.rig.Recorder().Active())

	out = h.do("remount_storage,0\n")
	assert.True(t, strings.HasPrefix(out, "ERROR: remount storage:"), out)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, nil)
	out := h.do("frobnicate,5\n")
	assert.Equal(t, "ERROR: Unknown command 'frobnicate'\n", out)
	for ch := actuator.LeftLED; ch < actuator.Servo; ch++ {
		assert.False(t, h.rig.Actuators().Active(ch), ch)
	}
	assert.False(t, h.rig.Recorder().Active())
}

func TestForwardThenDispatchPartialLines(t *testing.T) {
	h := newHarness(t, nil)
	h.cmd.take()

	h.cmd.send("flash_led_le")
	h.step(1)
	assert.False(t, h.board.outputs[actuator.LeftLED])
	assert.Equal(t, "flash_led_le", h.secondary.take())

	h.cmd.send("ft,100\n")
	h.step(1)
	assert.True(t, h.board.outputs[actuator.LeftLED])
	assert.Equal(t, "ft,100\n", h.secondary.take())

	// 100 ms at 5 ms ticks: the pulse started on the previous tick.
	h.step(19)
	assert.True(t, h.board.outputs[actuator.LeftLED])
	h.step(1)
	assert.False(t, h.board.outputs[actuator.LeftLED])
	assert.Empty(t, h.cmd.take())
}

func TestToggleLED(t *testing.T) {
	h := newHarness(t, nil)
	h.do("toggle_led_center,0\n")
	assert.True(t, h.board.outputs[actuator.CenterLED])
	h.step(100)
	assert.True(t, h.board.outputs[actuator.CenterLED])

	h.board.photo = true
	h.step(1)
	assert.True(t, h.rig.photodiode)

	h.do("toggle_led_center,0\n")
	assert.False(t, h.board.outputs[actuator.CenterLED])
}

func TestInvalidDurations(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"flash_led_left,0\n", "ERROR: Invalid value '0' for 'flash_led_left'\n"},
		{"reward_right,-20\n", "ERROR: Invalid value '-20' for 'reward_right'\n"},
		{"reward_left,600000\n", "ERROR: Invalid value '600000' for 'reward_left'\n"},
		{"update_lick_threshold_left,0\n", "ERROR: Invalid value '0' for 'update_lick_threshold_left'\n"},
		{"reward_left,x\n", "ERROR: Invalid value 'x' for 'reward_left'\n"},
		{"reward_left\n", "ERROR: Malformed command 'reward_left'\n"},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.line), func(t *testing.T) {
			h := newHarness(t, nil)
			assert.Equal(t, tt.want, h.do(tt.line))
		})
	}
}

func TestLineTooLong(t *testing.T) {
	h := newHarness(t, nil)
	out := h.do(strings.Repeat("x", 200) + "\n")
	assert.Equal(t, "ERROR: Line too long (max 128 bytes)\n", out)
	assert.Equal(t, "5\twheel_reset\n", h.do("reset_wheel,0\n"))
}

func TestThresholdCommands(t *testing.T) {
	h := newHarness(t, nil)

	out := h.do("update_lick_threshold_left,15\n")
	assert.Equal(t, "0\tleft_threshold_modified\n", out)
	assert.InDelta(t, 1500, h.rig.Detector().Threshold(touch.Left), 0.01)
	assert.InDelta(t, 1100, h.rig.Detector().Threshold(touch.Right), 0.01)

	out = h.do("update_lick_threshold_right,20\n")
	assert.Equal(t, "5\tright_threshold_modified\n", out)
	assert.InDelta(t, 2000, h.rig.Detector().Threshold(touch.Right), 0.01)

	out = h.do("update_lick_threshold,12\n")
	assert.Equal(t, "10\tlick_threshold_modified\n", out)
	assert.InDelta(t, 1200, h.rig.Detector().Threshold(touch.Left), 0.01)
	assert.InDelta(t, 1200, h.rig.Detector().Threshold(touch.Right), 0.01)
}

func TestResetCommands(t *testing.T) {
	h := newHarness(t, nil)
	h.board.wheel.EdgeA(true)
	h.board.wheel.EdgeB(true)
	require.Equal(t, int64(2), h.rig.Wheel().Count())

	assert.Equal(t, "0\twheel_reset\n", h.do("reset_wheel,0\n"))
	assert.Zero(t, h.rig.Wheel().Count())

	h.board.raw = [2]uint16{1500, 800}
	assert.Equal(t, "5\tlicks_reset\n", h.do("reset_licks,0\n"))
	assert.InDelta(t, 1500, h.rig.Detector().Baseline(touch.Left), 0.01)
	assert.InDelta(t, 800, h.rig.Detector().Baseline(touch.Right), 0.01)
}

func TestBoardResetAliases(t *testing.T) {
	h := newHarness(t, nil)
	h.board.raw = [2]uint16{1500, 800}
	assert.Equal(t, "0\tboard_resetted\n", h.do("reset,0\n"))
	assert.InDelta(t, 1500, h.rig.Detector().Baseline(touch.Left), 0.01)
	assert.InDelta(t, 800, h.rig.Detector().Baseline(touch.Right), 0.01)

	h.board.raw = [2]uint16{1200, 1300}
	assert.Equal(t, "5\tboard_resetted\n", h.do("reset_lick_sensor,0\n"))
	assert.InDelta(t, 1200, h.rig.Detector().Baseline(touch.Left), 0.01)
	assert.InDelta(t, 1300, h.rig.Detector().Baseline(touch.Right), 0.01)
}

func TestStartClock(t *testing.T) {
	h := newHarness(t, nil)
	h.step(1000)

	assert.Equal(t, "0\tclock_started\n", h.do("start_clock,0\n"))
	assert.Equal(t, "5\twheel_reset\n", h.do("reset_wheel,0\n"))

	// Touch events use the new origin too.
	h.board.raw[touch.Right] = 3000
	h.step(50)
	out := strings.TrimSpace(h.cmd.take())
	fields := strings.Split(out, "\t")
	require.Len(t, fields, 2, out)
	assert.Equal(t, "1", fields[1])
	ms, err := strconv.Atoi(fields[0])
	require.NoError(t, err)
	assert.Less(t, ms, 300)
}

func TestSlopeCommand(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "0\tlick_slope_modified\n", h.do("update_lick_slope,40\n"))
	assert.Equal(t, 40, h.rig.Detector().Slope())
	assert.Equal(t, "ERROR: Invalid value '-1' for 'update_lick_slope'\n", h.do("update_lick_slope,-1\n"))
	assert.Equal(t, 40, h.rig.Detector().Slope())
	assert.Equal(t, "10\tlick_slope_modified\n", h.do("update_lick_slope,0\n"))
	assert.Zero(t, h.rig.Detector().Slope())
}

func TestLickEvents(t *testing.T) {
	h := newHarness(t, nil)
	h.cmd.take()

	h.board.raw[touch.Right] = 3000
	h.step(50)
	out := h.cmd.take()
	assert.True(t, strings.HasSuffix(out, "\t1\n"), out)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.True(t, h.rig.Detector().Touched(touch.Right))

	h.board.raw[touch.Right] = 1000
	h.step(50)
	out = h.cmd.take()
	assert.True(t, strings.HasSuffix(out, "\t2\n"), out)
	assert.Equal(t, 1, strings.Count(out, "\n"))

	h.board.raw[touch.Left] = 3000
	h.step(50)
	assert.True(t, strings.HasSuffix(h.cmd.take(), "\t-1\n"))
	h.board.raw[touch.Left] = 1000
	h.step(50)
	assert.True(t, strings.HasSuffix(h.cmd.take(), "\t-2\n"))
}

func TestSessionRoundTrip(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, "0\tsession_started\n", h.do("start_session,7\n"))
	require.True(t, h.rig.Recorder().Active())

	h.board.raw[touch.Left] = 3000
	h.board.photo = true
	const extra = 2000
	h.step(extra)

	out := h.do("end_session,1\n")
	assert.False(t, h.rig.Recorder().Active())

	const want = extra + 1
	tail := "10005\tsession_ended\n"
	require.True(t, strings.HasSuffix(out, tail))
	stream := strings.TrimSuffix(out, tail)
	recs, err := session.ReadStream(strings.NewReader(stream))
	require.NoError(t, err)
	require.Len(t, recs, want)

	for i, rec := range recs {
		assert.Equal(t, uint32(i*5), rec.ElapsedMs, "record %d", i)
	}
	assert.Equal(t, uint8(255), recs[0].Left)
	assert.Equal(t, int8(1), recs[want-1].Photodiode)
	assert.Equal(t, int8(session.LickLeft), recs[want-1].LickState)

	info, err := os.Stat(filepath.Join(h.dir, "session_7.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(want*session.RecordSize), info.Size())
}

func TestSessionEndWithoutSend(t *testing.T) {
	h := newHarness(t, nil)
	h.do("start_session,1\n")
	h.step(9)
	assert.Equal(t, "50\tsession_ended\n", h.do("end_session,0\n"))

	info, err := os.Stat(filepath.Join(h.dir, "session_1.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(10*session.RecordSize), info.Size())

	assert.Equal(t, "ERROR: end session: no active session\n", h.do("end_session,0\n"))
}

func TestSessionDoubleStart(t *testing.T) {
	h := newHarness(t, nil)
	h.do("start_session,1\n")
	assert.Equal(t, "ERROR: start session_2.bin: session already active\n", h.do("start_session,2\n"))
	assert.Equal(t, "session_1.bin", h.rig.Recorder().Name())
}

func TestSessionExpectFilename(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, _ *Options) {
		cfg.Session.ExpectFilename = true
	})
	out := h.do("start_session,3\nmouse7_day2.bin\n")
	assert.Equal(t, "0\tawaiting_filename\n0\tsession_started\n", out)
	assert.Equal(t, "mouse7_day2.bin", h.rig.Recorder().Name())

	h.do("end_session,0\n")
	_, err := os.Stat(filepath.Join(h.dir, "mouse7_day2.bin"))
	assert.NoError(t, err)
}

func TestRewardValves(t *testing.T) {
	h := newHarness(t, nil)
	h.do("reward_left,50\n")
	assert.True(t, h.board.outputs[actuator.LeftValve])
	h.step(10)
	assert.False(t, h.board.outputs[actuator.LeftValve])

	h.do("toggle_reward_right,0\n")
	assert.True(t, h.board.outputs[actuator.RightValve])
	h.do("toggle_right_reward,0\n")
	assert.False(t, h.board.outputs[actuator.RightValve])
}

func TestRewardServo(t *testing.T) {
	drv := &fakeServo{}
	h := newHarness(t, func(cfg *config.Config, opts *Options) {
		cfg.Actuators.ServoEnabled = true
		cfg.Actuators.ServoCenter = 90
		cfg.Actuators.ServoLeft = 80
		cfg.Actuators.ServoStep = 5
		opts.Servo = drv
	})
	require.Equal(t, []int{90}, drv.angles)

	h.do("reward_left,10\n")
	servo := h.rig.Actuators().ServoMotion()
	assert.True(t, servo.Active())
	assert.False(t, h.board.outputs[actuator.LeftValve])

	h.step(20)
	assert.Equal(t, []int{90, 85, 80, 85, 90}, drv.angles)
	assert.Equal(t, actuator.Idle, servo.Phase())
}

func TestToggleCenterReward_NeedsServo(t *testing.T) {
	h := newHarness(t, nil)
	out := h.do("toggle_center_reward,0\n")
	assert.Equal(t, "ERROR: toggle_center_reward: center reward needs the reward servo\n", out)
	for ch := actuator.LeftLED; ch < actuator.Servo; ch++ {
		assert.False(t, h.board.outputs[ch], ch)
	}
}

func TestToggleCenterReward(t *testing.T) {
	drv := &fakeServo{}
	h := newHarness(t, func(cfg *config.Config, opts *Options) {
		cfg.Actuators.ServoEnabled = true
		cfg.Actuators.ServoCenter = 90
		cfg.Actuators.ServoStep = 5
		opts.Servo = drv
	})

	assert.Empty(t, h.do("toggle_center_reward,0\n"))
	servo := h.rig.Actuators().ServoMotion()
	assert.Equal(t, actuator.Holding, servo.Phase())
	assert.True(t, servo.Manual())
	h.step(100)
	assert.Equal(t, actuator.Holding, servo.Phase())

	h.do("toggle_center_reward,0\n")
	assert.Equal(t, actuator.Idle, servo.Phase())
	assert.Equal(t, []int{90}, drv.angles)
}

func TestTelemetryMirror(t *testing.T) {
	tracker := telemetry.NewTracker(time.Now())
	var mirrored []string
	h := newHarness(t, func(_ *config.Config, opts *Options) {
		opts.Tracker = tracker
		opts.OnEvent = func(_ time.Duration, msg string) {
			mirrored = append(mirrored, msg)
		}
	})
	h.do("start_session,2\n")
	h.step(3)

	assert.Equal(t, []string{"protocol_v1", "session_started"}, mirrored)
	s := tracker.Snapshot()
	assert.True(t, s.Rig.SessionActive)
	assert.Equal(t, "session_2.bin", s.Rig.SessionName)
	assert.True(t, s.Rig.StorageMounted)
	assert.InDelta(t, 1100, s.Rig.LeftThreshold, 0.01)
}

func TestRun_ClosesSessionOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Session.Dir = t.TempDir()
	cfg.Loop.Tick = time.Millisecond

	cmd := newFakeLink("start_session,9\n")
	r, err := New(Options{
		Config:  cfg,
		Board:   newFakeBoard(),
		Command: cmd,
		Storage: session.NewDirStorage(cfg.Session.Dir),
	}, time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	assert.False(t, r.Recorder().Active())
	assert.Contains(t, cmd.take(), "\tsession_started\n")
	info, err := os.Stat(filepath.Join(cfg.Session.Dir, "session_9.bin"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Zero(t, info.Size()%session.RecordSize)
}
