package capture

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"wvnc.dev/wvnc/internal/wl"
)

type state int

const (
	stateIdle state = iota
	statePending
)

// Pipeline drives C3's Idle→Pending→Ready state machine. It owns a
// two-slot buffer rotation (current/previous) backed by a single shm pool
// allocated lazily on the first capture, per C1's policy.
type Pipeline struct {
	mgr    *wl.ScreencopyManager
	shm    *wl.Shm
	output wl.Output
	period time.Duration
	log    zerolog.Logger

	st          state
	lastCapture time.Time

	pool        *wl.ShmPool
	slotStride  uint32
	slotHeight  uint32
	slots       [2]*Frame
	curIdx      int
	curFrame    *wl.ScreencopyFrame
	doneFlag    bool
	failed      bool
	failedErr   error
}

// New builds a Pipeline targeting output, pacing captures at period.
func New(mgr *wl.ScreencopyManager, shm *wl.Shm, output wl.Output, period time.Duration, log zerolog.Logger) *Pipeline {
	return &Pipeline{mgr: mgr, shm: shm, output: output, period: period, log: log}
}

// Pending reports whether a capture is in flight.
func (p *Pipeline) Pending() bool { return p.st == statePending }

// Failed reports a fatal screencopy failure; per §7 this ends the loop.
func (p *Pipeline) Failed() (bool, error) { return p.failed, p.failedErr }

// MaybeStart issues a new capture if the pacing interval has elapsed and no
// capture is currently pending (C7 step 1). It returns true if a capture
// was started.
func (p *Pipeline) MaybeStart(now time.Time) (bool, error) {
	if !shouldStart(p.st, p.lastCapture, p.period, now) {
		return false, nil
	}
	p.lastCapture = now
	p.curIdx = 1 - p.curIdx
	p.doneFlag = false

	frame := p.mgr.CaptureOutput(p.output)
	p.curFrame = frame
	p.st = statePending

	// original_source/main.c's v1 frame_listener issues copy() straight from
	// the buffer event (there is no buffer_done in v1); buffer_done only
	// exists from v3 onward and announcing multiple buffer formats, which
	// this bridge never needs. Driving copy from OnBuffer instead of
	// OnBufferDone keeps capture working against a v1-only compositor.
	frame.OnBuffer = func(format wl.ShmFormat, width, height, stride uint32) {
		if err := p.ensureSlot(p.curIdx, format, width, height, stride); err != nil {
			p.failed, p.failedErr = true, err
			return
		}
		if slot := p.slots[p.curIdx]; slot != nil {
			frame.Copy(slot.Buf)
		}
	}
	frame.OnFlags = func(yInvert bool) {
		if p.slots[p.curIdx] != nil {
			p.slots[p.curIdx].YInvert = yInvert
		}
	}
	frame.OnReady = func(_, _, _ uint32) {
		p.doneFlag = true
		if slot := p.slots[p.curIdx]; slot != nil {
			slot.Ready = true
		}
	}
	frame.OnFailed = func() {
		p.failed = true
		p.failedErr = errors.New("screencopy frame capture failed")
	}
	return true, nil
}

// shouldStart is MaybeStart's pacing decision, factored out as a pure
// function of the current state, the last capture time, and the
// configured period, so invariant 6 (no overlapping captures, no capture
// before the period elapses) is testable against a fake clock without a
// live Wayland connection.
func shouldStart(st state, lastCapture time.Time, period time.Duration, now time.Time) bool {
	if st != stateIdle {
		return false
	}
	if !lastCapture.IsZero() && now.Sub(lastCapture) < period {
		return false
	}
	return true
}

// ensureSlot allocates (on first use) or validates (on every later use) the
// buffer backing slot idx. Per the data model's invariant, width/height/
// stride/format must be stable across the session; a mismatch is fatal.
func (p *Pipeline) ensureSlot(idx int, format wl.ShmFormat, width, height, stride uint32) error {
	if p.pool == nil {
		p.slotStride, p.slotHeight = stride, height
		pool, err := p.shm.CreatePool(int(stride) * int(height) * 2)
		if err != nil {
			return errors.Wrap(err, "allocate capture shm pool")
		}
		p.pool = pool
	} else {
		ref := p.slots[0]
		if ref == nil {
			ref = p.slots[1]
		}
		if ref != nil && (width != ref.Width || height != ref.Height || stride != ref.Stride || format != ref.Format) {
			return errors.Errorf("capture geometry changed mid-session: %dx%d stride %d format %d -> %dx%d stride %d format %d",
				ref.Width, ref.Height, ref.Stride, ref.Format, width, height, stride, format)
		}
	}

	if p.slots[idx] == nil {
		offset := idx * int(stride) * int(height)
		buf := p.pool.CreateBuffer(offset, int(width), int(height), int(stride), format)
		p.slots[idx] = &Frame{Buf: buf, Width: width, Height: height, Stride: stride, Format: format}
	}
	return nil
}

// TakeReady returns (current, previous) once the pending capture's ready
// event has landed, transitioning back to Idle. previous is nil on the
// session's first capture.
func (p *Pipeline) TakeReady() (cur, prev *Frame, ok bool) {
	if p.st != statePending || !p.doneFlag {
		return nil, nil, false
	}
	p.st = stateIdle
	p.doneFlag = false
	if p.curFrame != nil {
		p.curFrame.Destroy()
		p.curFrame = nil
	}
	cur = p.slots[p.curIdx]
	prevIdx := 1 - p.curIdx
	prev = p.slots[prevIdx]
	if prev != nil && !prev.Ready {
		prev = nil
	}
	return cur, prev, true
}

// Close releases the pool and its buffers.
func (p *Pipeline) Close() error {
	for _, s := range p.slots {
		if s != nil && s.Buf != nil {
			s.Buf.Destroy()
		}
	}
	if p.pool != nil {
		return p.pool.Destroy()
	}
	return nil
}
