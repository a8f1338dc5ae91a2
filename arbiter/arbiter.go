package arbiter

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Meander-Cloud/go-schedule/scheduler"
)

const (
	// default for when not provided in Options
	EventChannelLength uint16 = 1024
)

type Options struct {
	EventChannelLength uint16

	// invoked on scheduler goroutine when a dispatched functor panics
	PanicHandler func(rec any)

	LogPrefix string
	LogDebug  bool
}

type event struct {
	f  func()
	t0 time.Time
}

// scheduler goroutine
func (e *event) reset() {
	e.f = nil
	e.t0 = time.Time{}
}

// Arbiter serializes every state transition of one node onto a single
// scheduler goroutine.
type Arbiter struct {
	options *Options
	s       *scheduler.Scheduler[Group]
	eventpl sync.Pool
	eventch chan *event
}

func NewArbiter(options *Options) *Arbiter {
	eventChannelLength := options.EventChannelLength
	if eventChannelLength == 0 {
		eventChannelLength = EventChannelLength
	}

	a := &Arbiter{
		options: options,
		s: scheduler.NewScheduler[Group](
			&scheduler.Options{
				EventChannelLength: eventChannelLength,
				LogPrefix:          options.LogPrefix,
				LogDebug:           options.LogDebug,
			},
		),
		eventpl: sync.Pool{
			New: func() any {
				return &event{}
			},
		},
		eventch: make(chan *event, eventChannelLength),
	}

	// add eventch
	a.s.ProcessAsync(
		&scheduler.ScheduleAsyncEvent[Group]{
			AsyncVariant: scheduler.NewAsyncVariant(
				false,
				nil,
				a.eventch,
				func(_ *scheduler.Scheduler[Group], _ *scheduler.AsyncVariant[Group], recv interface{}) {
					a.handle(recv)
				},
				func(_ *scheduler.Scheduler[Group], v *scheduler.AsyncVariant[Group]) {
					log.Printf("%s: eventch released, select count: %d", options.LogPrefix, v.SelectCount)
				},
			),
		},
	)

	// ownership of internal state is transferred to scheduler goroutine
	a.s.RunAsync()

	return a
}

func (a *Arbiter) Shutdown() {
	a.s.Shutdown() // wait
}

func (a *Arbiter) Scheduler() *scheduler.Scheduler[Group] {
	return a.s
}

func (a *Arbiter) getEvent() *event {
	evtAny := a.eventpl.Get()
	evt, ok := evtAny.(*event)
	if !ok {
		err := fmt.Errorf("%s: failed to cast event, evtAny=%#v", a.options.LogPrefix, evtAny)
		log.Printf("%s", err.Error())
		panic(err)
	}
	return evt
}

func (a *Arbiter) returnEvent(evt *event) {
	// recycle event
	evt.reset()
	a.eventpl.Put(evt)
}

// scheduler goroutine
func (a *Arbiter) handle(recv interface{}) {
	evt, ok := recv.(*event)
	if !ok {
		log.Printf("%s: failed to cast event, recv=%#v", a.options.LogPrefix, recv)
		return
	}
	defer a.returnEvent(evt)

	t1 := time.Now().UTC()

	func() {
		defer func() {
			rec := recover()
			if rec != nil {
				log.Printf(
					"%s: functor recovered from panic: %+v",
					a.options.LogPrefix,
					rec,
				)

				if a.options.PanicHandler != nil {
					a.options.PanicHandler(rec)
				}
			}
		}()
		evt.f()
	}()

	if a.options.LogDebug {
		t2 := time.Now().UTC()

		// log event lifecycle
		log.Printf(
			"%s: event goQueueWait=%dus, evtFuncElapsed=%dus",
			a.options.LogPrefix,
			t1.Sub(evt.t0).Microseconds(),
			t2.Sub(t1).Microseconds(),
		)
	}
}

// any goroutine
func (a *Arbiter) Dispatch(f func()) error {
	evt := a.getEvent()
	evt.f = f
	evt.t0 = time.Now().UTC()

	select {
	case a.eventch <- evt:
	default:
		err := fmt.Errorf("%s: failed to push to eventch", a.options.LogPrefix)
		log.Printf("%s", err.Error())

		a.returnEvent(evt)
		return err
	}

	return nil
}
