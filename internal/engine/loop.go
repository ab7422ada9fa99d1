package engine

import (
	"context"
	"time"

	"github.com/bnema/wayland-virtual-input-go/virtual_keyboard"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"wvnc.dev/wvnc/internal/capture"
	"wvnc.dev/wvnc/internal/damage"
	"wvnc.dev/wvnc/internal/keyboard"
	"wvnc.dev/wvnc/internal/pointer"
	"wvnc.dev/wvnc/internal/rfb"
	"wvnc.dev/wvnc/internal/wl"
)

// pollTimeout bounds how long a single unix.Poll wait can run, so
// MaybeStart is re-evaluated at least this often even when no fd ever
// becomes ready (an idle compositor with no RFB clients connected).
const pollTimeout = 50 * time.Millisecond

// Loop is the single-threaded event loop described by C7: one unix.Poll
// wait per iteration, servicing the Wayland connection, every RFB client
// socket, and the paced capture pipeline from one goroutine.
type Loop struct {
	display  *wl.Display
	output   wl.Output
	pipeline *capture.Pipeline
	differ   damage.Differ
	fb       *damage.Framebuffer

	keyTranslator *keyboard.Translator
	pointerDevice *pointer.Device
	vkMgr         *virtual_keyboard.VirtualKeyboardManager

	server *rfb.Server
}

// New connects to the compositor, resolves the target output and seat,
// and wires every module together. It blocks on a handful of roundtrips
// before returning, matching C2's "discovery happens before the loop
// starts" policy.
func New(log zerolog.Logger, cfg Config) (*Loop, error) {
	display, err := wl.NewDisplay()
	if err != nil {
		return nil, errors.Wrap(err, "connect to compositor")
	}

	registry := display.Registry()
	outputs, err := registry.Outputs()
	if err != nil {
		display.Close()
		return nil, err
	}
	output, err := selectOutput(outputs, cfg.OutputName)
	if err != nil {
		display.Close()
		return nil, err
	}
	log.Info().Str("output", output.Name).Int32("width", output.LogicalWidth).
		Int32("height", output.LogicalHeight).Msg("selected output")

	shm, err := registry.BindShm()
	if err != nil {
		display.Close()
		return nil, err
	}
	screencopy, err := registry.BindScreencopyManager()
	if err != nil {
		display.Close()
		return nil, err
	}

	seats, err := registry.Seats()
	if err != nil {
		display.Close()
		return nil, err
	}

	fb := damage.NewFramebuffer(int(output.LogicalWidth), int(output.LogicalHeight))
	pipeline := capture.New(screencopy, shm, output, cfg.Period, log)

	l := &Loop{
		display:  display,
		output:   output,
		pipeline: pipeline,
		differ:   damage.Differ{},
		fb:       fb,
	}

	l.pointerDevice = pointer.New(log, unionLogicalRect(outputs), cfg.NoUinput)

	// The virtual-keyboard path goes over zwp_virtual_keyboard_v1, not
	// uinput; --no-uinput only disables the synthetic pointer device (§6),
	// so keyboard synthesis stays on regardless.
	if err := l.setupKeyboard(seats, log); err != nil {
		log.Warn().Err(err).Msg("keyboard synthesis unavailable; RFB key events will be a no-op")
	}

	server, err := rfb.Listen(log, cfg.Bind, cfg.Port, fb)
	if err != nil {
		l.Close()
		return nil, err
	}
	server.OnPointerEvent = func(mask uint8, x, y uint16) {
		l.pointerDevice.HandleEvent(mask, int32(x), int32(y))
	}
	server.OnKeyEvent = func(down bool, keysym uint32) {
		if l.keyTranslator != nil {
			l.keyTranslator.HandleKey(down, keysym)
		}
	}
	l.server = server

	return l, nil
}

// unionLogicalRect computes the bounding box of every discovered output's
// logical rectangle, the "cached union bounding box" pointer coordinates
// are normalized against, per §3/§4.2 — not just the mirrored output's own
// rectangle, since RFB coordinates are expressed over the whole layout.
func unionLogicalRect(outputs []wl.Output) pointer.LogicalRect {
	o := outputs[0]
	minX, minY := o.LogicalX, o.LogicalY
	maxX, maxY := o.LogicalX+o.LogicalWidth, o.LogicalY+o.LogicalHeight
	for _, o := range outputs[1:] {
		minX = min(minX, o.LogicalX)
		minY = min(minY, o.LogicalY)
		maxX = max(maxX, o.LogicalX+o.LogicalWidth)
		maxY = max(maxY, o.LogicalY+o.LogicalHeight)
	}
	return pointer.LogicalRect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// selectOutput picks the output named by cfg.OutputName. An empty name is
// accepted only when the compositor has exactly one output.
func selectOutput(outputs []wl.Output, name string) (wl.Output, error) {
	if name == "" {
		if len(outputs) != 1 {
			return wl.Output{}, errors.Errorf("%d outputs found; select one with --output", len(outputs))
		}
		return outputs[0], nil
	}
	for _, o := range outputs {
		if o.Name == name {
			return o, nil
		}
	}
	return wl.Output{}, errors.Errorf("no such output %q", name)
}

// setupKeyboard brings up the virtual-keyboard translator. The
// virtual-keyboard manager in github.com/bnema/wayland-virtual-input-go
// owns its own Wayland connection (it is not wired through our Display),
// matching how helixml-helix's wayland_input.go uses the same library
// alongside, rather than through, its own compositor client.
func (l *Loop) setupKeyboard(seats []wl.Seat, log zerolog.Logger) error {
	var seat *wl.Seat
	for i := range seats {
		if seats[i].HasKeyboard() {
			seat = &seats[i]
			break
		}
	}

	var seatKeymap *wl.KeymapSource
	if seat != nil {
		kb := seat.GetKeyboard(l.display)
		kb.OnKeymap = func(k wl.KeymapSource) { seatKeymap = &k }
		// One bounded roundtrip: a compositor that has a keymap ready
		// sends it immediately in response to get_keyboard, so a single
		// Roundtrip is enough to observe it before falling back.
		if err := l.display.Roundtrip(); err != nil {
			log.Warn().Err(err).Msg("roundtrip while waiting for seat keymap failed")
		}
		kb.Release()
	}

	vkMgr, err := virtual_keyboard.NewVirtualKeyboardManager()
	if err != nil {
		return errors.Wrap(err, "connect virtual keyboard manager")
	}
	l.vkMgr = vkMgr

	translator, err := keyboard.New(log, vkMgr, seatKeymap)
	if err != nil {
		vkMgr.Destroy()
		return errors.Wrap(err, "create keyboard translator")
	}
	l.keyTranslator = translator
	return nil
}

// Run drives the event loop until ctx is cancelled or a fatal error
// occurs, per §4.7's four-step iteration: service the Wayland connection,
// service RFB clients, advance the capture pipeline, and push any
// resulting damage.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if failed, ferr := l.pipeline.Failed(); failed {
			return errors.Wrap(ferr, "capture pipeline failed")
		}

		fds := append([]int{l.display.Fd()}, l.server.FDs()...)
		pollfds := make([]unix.PollFd, len(fds))
		for i, fd := range fds {
			pollfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
		}

		n, err := unix.Poll(pollfds, int(pollTimeout/time.Millisecond))
		if err != nil && err != unix.EINTR {
			return errors.Wrap(err, "poll")
		}

		if n > 0 {
			if pollfds[0].Revents&unix.POLLIN != 0 {
				if err := l.display.DispatchOne(); err != nil {
					return errors.Wrap(err, "dispatch wayland event")
				}
			}
			ready := make(map[int]bool)
			for _, pfd := range pollfds[1:] {
				if pfd.Revents&unix.POLLIN != 0 {
					ready[int(pfd.Fd)] = true
				}
			}
			if len(ready) > 0 {
				l.server.Dispatch(ready)
			}
		}

		if !l.pipeline.Pending() {
			if _, err := l.pipeline.MaybeStart(time.Now()); err != nil {
				return errors.Wrap(err, "start capture")
			}
		}

		if cur, prev, ok := l.pipeline.TakeReady(); ok && cur != nil {
			rects := l.differ.Diff(prev, cur, l.fb, l.output.Orientation)
			if len(rects) > 0 {
				l.server.PushDamage(rects)
			}
		}
	}
}

// Close tears down every owned resource, aggregating errors rather than
// stopping at the first one, so a failure in one module never leaks the
// others.
func (l *Loop) Close() error {
	var result *multierror.Error
	if l.server != nil {
		if err := l.server.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if l.keyTranslator != nil {
		l.keyTranslator.Close()
	}
	if l.vkMgr != nil {
		if err := l.vkMgr.Destroy(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if l.pointerDevice != nil {
		if err := l.pointerDevice.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := l.pipeline.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if l.display != nil {
		if err := l.display.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
