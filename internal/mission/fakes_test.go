package mission

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roman-kulish/rem-builder/internal/telemetry"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type paramSet struct {
	name, value string
}

// fakeParams echoes confirmations the way the vehicle does: every set value
// comes back as an update, and a scan request is reported as started and,
// after scanDuration, as finished.
type fakeParams struct {
	rec          *recorder
	noAck        bool
	scanDuration time.Duration

	// link, when set, drops updates published while it is closed
	link *fakeLink

	mu      sync.Mutex
	subs    map[string]map[int]UpdateFunc
	nextID  int
	sets    []paramSet
	current map[string]string
	wg      sync.WaitGroup
}

func newFakeParams(rec *recorder) *fakeParams {
	return &fakeParams{
		rec:     rec,
		subs:    make(map[string]map[int]UpdateFunc),
		current: make(map[string]string),
	}
}

func (p *fakeParams) Subscribe(group string, fn UpdateFunc) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	if p.subs[group] == nil {
		p.subs[group] = make(map[int]UpdateFunc)
	}
	p.subs[group][id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs[group], id)
	}
}

func (p *fakeParams) subscribers(group string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[group])
}

func (p *fakeParams) notify(name, value string) {
	group, _, _ := strings.Cut(name, ".")

	p.mu.Lock()
	p.current[name] = value
	if p.link != nil && p.link.down.Load() {
		p.mu.Unlock()
		return
	}
	fns := make([]UpdateFunc, 0, len(p.subs[group]))
	for _, fn := range p.subs[group] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(name, value)
	}
}

// refresh re-delivers the current value of every subscribed parameter, the
// way the link does after it was reopened
func (p *fakeParams) refresh() {
	p.mu.Lock()
	var names []string
	for name := range p.current {
		group, _, _ := strings.Cut(name, ".")
		if len(p.subs[group]) > 0 {
			names = append(names, name)
		}
	}
	p.mu.Unlock()

	slices.Sort(names)
	for _, name := range names {
		p.mu.Lock()
		value := p.current[name]
		p.mu.Unlock()
		p.notify(name, value)
	}
}

func (p *fakeParams) SetValue(_ context.Context, name, value string) error {
	p.mu.Lock()
	p.sets = append(p.sets, paramSet{name, value})
	p.mu.Unlock()

	if p.noAck {
		return nil
	}

	switch {
	case name == ParamScanNow && value == "1":
		p.rec.add("scan-trigger")
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.notify(ParamScanNow, "1")
			time.Sleep(p.scanDuration)
			p.rec.add("scan-end")
			p.notify(ParamScanNow, "0")
		}()

	case name == ParamScanOnDemand,
		strings.HasPrefix(name, "kalman.initial"):
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.notify(name, value)
		}()
	}

	return nil
}

func (p *fakeParams) values(name string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for _, s := range p.sets {
		if s.name == name {
			out = append(out, s.value)
		}
	}
	return out
}

type fakeFlight struct {
	rec   *recorder
	stops atomic.Int32
}

func (f *fakeFlight) SendPositionSetpoint(_ context.Context, x, y, z, yaw float64) error {
	f.rec.add("setpoint %g,%g,%g,%g", x, y, z, yaw)
	return nil
}

func (f *fakeFlight) SendStopSetpoint(context.Context) error {
	f.stops.Add(1)
	return nil
}

type fakeLink struct {
	rec    *recorder
	opens  atomic.Int32
	closes atomic.Int32
	down   atomic.Bool
	onOpen func()
}

func (l *fakeLink) Open(context.Context) error {
	l.opens.Add(1)
	l.down.Store(false)
	if l.rec != nil {
		l.rec.add("link-open")
	}
	if l.onOpen != nil {
		l.onOpen()
	}
	return nil
}

func (l *fakeLink) Close() error {
	l.closes.Add(1)
	l.down.Store(true)
	if l.rec != nil {
		l.rec.add("link-close")
	}
	return nil
}

// fakeVariance streams the same sample every period until ctx is done
type fakeVariance struct {
	sample    telemetry.Variance
	closeNow  bool
	streamErr error
}

func (v *fakeVariance) StreamVariance(ctx context.Context, period time.Duration) (<-chan telemetry.Variance, error) {
	if v.streamErr != nil {
		return nil, v.streamErr
	}

	ch := make(chan telemetry.Variance)
	if v.closeNow {
		close(ch)
		return ch, nil
	}

	go func() {
		defer close(ch)

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case ch <- v.sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

type fakePower struct {
	calls atomic.Int32
	err   error
}

func (p *fakePower) PowerDown(context.Context) error {
	p.calls.Add(1)
	return p.err
}

type fakeConsole struct {
	calls atomic.Int32
	err   error
}

func (c *fakeConsole) Stop() error {
	c.calls.Add(1)
	return c.err
}

var errPowerDown = errors.New("power switch not responding")

type harness struct {
	rec         *recorder
	params      *fakeParams
	flight      *fakeFlight
	link        *fakeLink
	variance    *fakeVariance
	power       *fakePower
	console     *fakeConsole
	coordinator *RadioCoordinator
}

func newHarness() *harness {
	rec := &recorder{}
	h := harness{
		rec:      rec,
		params:   newFakeParams(rec),
		flight:   &fakeFlight{rec: rec},
		link:     &fakeLink{},
		variance: &fakeVariance{},
		power:    &fakePower{err: errPowerDown},
		console:  &fakeConsole{},
	}
	h.params.scanDuration = 5 * time.Millisecond
	h.coordinator = NewRadioCoordinator(NewState(), h.link, h.params, WithQuietPeriod(time.Millisecond))
	return &h
}

func (h *harness) vehicle() Vehicle {
	return Vehicle{
		Params:   h.params,
		Flight:   h.flight,
		Link:     h.link,
		Variance: h.variance,
		Power:    h.power,
	}
}

func (h *harness) sequencer(t *testing.T, origin Origin, options ...func(*Sequencer)) *Sequencer {
	t.Helper()

	options = append([]func(*Sequencer){
		WithSetpointDwell(2, time.Millisecond),
		WithVariancePeriod(time.Millisecond),
		WithResetSettle(time.Millisecond),
		WithShutdownSettle(time.Millisecond),
		WithConsole(h.console),
		WithWaitTimeout(5 * time.Second),
	}, options...)

	s, err := NewSequencer(h.vehicle(), h.coordinator, origin, options...)
	if err != nil {
		t.Fatalf("Failed to create sequencer: %v", err)
	}
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
