// Package rig owns the rig subsystems and runs the cooperative control loop.
package rig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/itohio/lickrig/pkg/actuator"
	"github.com/itohio/lickrig/pkg/config"
	"github.com/itohio/lickrig/pkg/encoder"
	"github.com/itohio/lickrig/pkg/hw"
	"github.com/itohio/lickrig/pkg/link"
	"github.com/itohio/lickrig/pkg/protocol"
	"github.com/itohio/lickrig/pkg/session"
	"github.com/itohio/lickrig/pkg/telemetry"
	"github.com/itohio/lickrig/pkg/touch"
)

// Options wires a Rig. Board, Command and Storage are required.
type Options struct {
	Config  *config.Config
	Board   hw.Board
	Command link.Link
	// Secondary receives every inbound command byte before it is dispatched.
	Secondary link.Link
	Storage   session.Storage
	// Servo drives the reward servo locally. Without it rewards use the valves.
	Servo   actuator.ServoDriver
	Tracker *telemetry.Tracker
	// OnEvent mirrors every outbound event line.
	OnEvent func(elapsed time.Duration, msg string)
	Log     *slog.Logger
}

// Rig is the control loop context. All methods must be called from the
// loop goroutine.
type Rig struct {
	cfg *config.Config
	log *slog.Logger

	board     hw.Board
	cmd       link.Link
	secondary link.Link
	tracker   *telemetry.Tracker

	lines     protocol.LineReader
	replies   protocol.LineReader
	overflows int
	out       *protocol.Writer
	disp      *protocol.Dispatcher

	detector *touch.Detector
	wheel    *encoder.Tracker
	act      *actuator.Controller
	rec      *session.Recorder
	storage  session.Storage

	boot       time.Time
	now        time.Time
	photodiode bool
}

// New builds a rig. boot is the reference time for event timestamps.
func New(opts Options, boot time.Time) (*Rig, error) {
	if opts.Board == nil {
		return nil, errors.New("rig: board is required")
	}
	if opts.Command == nil {
		return nil, errors.New("rig: command link is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("rig: storage is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	r := &Rig{
		cfg:       cfg,
		log:       log,
		board:     opts.Board,
		cmd:       opts.Command,
		secondary: opts.Secondary,
		tracker:   opts.Tracker,
		storage:   opts.Storage,
		boot:      boot,
		now:       boot,
	}

	r.out = protocol.NewWriter(opts.Command)
	r.out.OnEvent = opts.OnEvent
	r.disp = protocol.NewDispatcher(r.out)

	r.detector = touch.NewDetector(opts.Board, detectorConfig(cfg), boot, cfg.Touch.ThresholdLeft, cfg.Touch.ThresholdRight)
	r.wheel = encoder.New(cfg.Encoder.DegreesPerCount)
	r.rec = session.NewRecorder(opts.Storage, int(cfg.Session.BufferSize.Bytes()))

	r.act = actuator.New()
	r.act.OnError = func(ch actuator.ChannelID, err error) {
		r.log.Warn("actuator output failed", "channel", ch, "error", err)
	}
	for _, ch := range hw.DigitalChannels {
		if out := opts.Board.Output(ch); out != nil {
			if err := r.act.Attach(ch, out); err != nil {
				return nil, err
			}
		}
	}
	if opts.Servo != nil && cfg.Actuators.ServoEnabled {
		r.act.AttachServo(actuator.NewServo(opts.Servo, cfg.Actuators.ServoCenter, cfg.Actuators.ServoStep))
	}

	r.registerCommands()
	return r, nil
}

func detectorConfig(cfg *config.Config) touch.Config {
	mode := touch.Multiplier
	if cfg.Touch.Mode == config.ModeFixed {
		mode = touch.Fixed
	}
	return touch.Config{
		Mode:               mode,
		Debounce:           cfg.Touch.Debounce,
		CalibrationSamples: cfg.Touch.CalibrationSamples,
		MaxRaw:             cfg.Touch.MaxRaw,
		Slope:              cfg.Touch.Slope,
		CutoffHz:           cfg.Filter.CutoffHz,
		SampleHz:           cfg.Filter.SampleHz,
		Order:              cfg.Filter.Order,
		Adaptive:           cfg.Filter.Adaptive,
	}
}

// Boot announces the protocol version, mounts storage, attaches the
// encoder and calibrates the touch baselines. Failures are reported and
// never fatal.
func (r *Rig) Boot() {
	r.event(fmt.Sprintf("protocol_v%d", protocol.Version))

	if err := r.storage.Mount(); err != nil {
		r.log.Error("storage mount failed, logging disabled", "error", err)
		r.out.Error(session.ErrNotMounted.Error())
	}
	if err := r.board.AttachEncoder(r.wheel); err != nil {
		r.log.Warn("encoder not available", "error", err)
	}
	if err := r.detector.CalibrateAll(); err != nil {
		r.log.Warn("touch calibration failed", "error", err)
	}
	if servo := r.act.ServoMotion(); servo != nil {
		if err := servo.Home(); err != nil {
			r.log.Warn("servo home failed", "error", err)
		}
	}
	r.log.Info("rig ready",
		"commands", len(r.disp.Names()),
		"buffer_records", r.rec.Capacity(),
		"left_threshold", r.detector.Threshold(touch.Left),
		"right_threshold", r.detector.Threshold(touch.Right))
}

// Tick runs one control loop iteration.
func (r *Rig) Tick(now time.Time) {
	r.now = now

	r.pollSecondary()
	r.pollCommands()

	for _, ch := range touch.Channels {
		ev, ok, err := r.detector.Update(ch, now)
		if err != nil {
			r.log.Debug("touch read failed", "channel", ch, "error", err)
			continue
		}
		if ok {
			r.out.Code(ev.Elapsed, ev.Code())
		}
	}

	r.act.Tick(now)

	if level, err := r.board.Photodiode(); err == nil {
		r.photodiode = level
	}

	if r.rec.Active() {
		if err := r.rec.AppendAt(r.record(), now); err != nil {
			r.log.Warn("session flush failed, buffer dropped", "session", r.rec.Name(), "error", err)
			r.out.Error(err.Error())
		}
	}

	if r.tracker != nil {
		r.tracker.Update(r.state())
	}
}

// Run boots the rig and ticks it every cfg.Loop.Tick until ctx is canceled.
// An active session is closed on exit.
func (r *Rig) Run(ctx context.Context) error {
	r.Boot()

	ticker := time.NewTicker(r.cfg.Loop.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case now := <-ticker.C:
			r.Tick(now)
		}
	}
}

func (r *Rig) shutdown() {
	r.act.Off()
	if !r.rec.Active() {
		return
	}
	sum, err := r.rec.End(false, nil)
	if err != nil {
		r.log.Error("closing session failed", "session", sum.Name, "error", err)
		return
	}
	r.log.Info("session closed on shutdown", "session", sum.Name, "records", sum.Records)
}

// pollCommands forwards inbound bytes to the secondary board and then
// dispatches every complete line.
func (r *Rig) pollCommands() {
	data := r.cmd.Poll()
	if len(data) == 0 {
		return
	}
	if r.secondary != nil && r.secondary.IsConnected() {
		if _, err := r.secondary.Write(data); err != nil {
			r.log.Warn("forward to secondary failed", "error", err)
		}
	}

	for _, line := range r.lines.Feed(data) {
		if err := r.disp.Dispatch(line); err != nil {
			r.log.Debug("command failed", "line", line, "error", err)
		}
	}
	if n := r.lines.Overflows(); n != r.overflows {
		r.overflows = n
		r.out.Error(fmt.Sprintf("Line too long (max %d bytes)", protocol.MaxLine))
	}
}

func (r *Rig) pollSecondary() {
	if r.secondary == nil {
		return
	}
	for _, line := range r.replies.Feed(r.secondary.Poll()) {
		r.log.Debug("secondary", "line", line)
	}
}

func (r *Rig) record() session.Record {
	rec := session.Record{
		Left:    session.Saturate8(r.detector.Value(touch.Left)),
		Right:   session.Saturate8(r.detector.Value(touch.Right)),
		Degrees: r.wheel.Degrees16(),
	}
	if r.detector.Touched(touch.Left) {
		rec.LickState |= session.LickLeft
	}
	if r.detector.Touched(touch.Right) {
		rec.LickState |= session.LickRight
	}
	if r.photodiode {
		rec.Photodiode = 1
	}
	return rec
}

func (r *Rig) state() telemetry.RigState {
	return telemetry.RigState{
		SessionActive:  r.rec.Active(),
		SessionName:    r.rec.Name(),
		RecordsWritten: r.rec.Written(),
		StorageMounted: r.storage.Mounted(),
		LeftTouched:    r.detector.Touched(touch.Left),
		RightTouched:   r.detector.Touched(touch.Right),
		LeftValue:      r.detector.Value(touch.Left),
		RightValue:     r.detector.Value(touch.Right),
		LeftThreshold:  r.detector.Threshold(touch.Left),
		RightThreshold: r.detector.Threshold(touch.Right),
		Degrees:        r.wheel.Degrees(),
		Photodiode:     r.photodiode,
	}
}

func (r *Rig) elapsed() time.Duration { return r.now.Sub(r.boot) }

func (r *Rig) event(msg string) { r.out.Event(r.elapsed(), msg) }

// Detector, Wheel, Actuators and Recorder expose the subsystems for
// inspection.
func (r *Rig) Detector() *touch.Detector       { return r.detector }
func (r *Rig) Wheel() *encoder.Tracker         { return r.wheel }
func (r *Rig) Actuators() *actuator.Controller { return r.act }
func (r *Rig) Recorder() *session.Recorder     { return r.rec }
