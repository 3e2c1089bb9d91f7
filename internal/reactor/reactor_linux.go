//go:build linux

package reactor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Reactor multiplexes readiness of registered descriptors with epoll.
// Handlers and the interval task run on the goroutine that called Run.
type Reactor struct {
	cfg        Config
	log        zerolog.Logger
	epfd       int
	wakefd     int
	sources    map[int32]source
	onInterval func(time.Time)
	now        func() time.Time
	state      atomic.Int32
}

// New creates the epoll instance and the wake descriptor used to stop Run.
func New(cfg Config, logger zerolog.Logger) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("create epoll: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("create eventfd: %w", err)
	}
	r := &Reactor{
		cfg:     cfg.withDefaults(),
		log:     logger,
		epfd:    epfd,
		wakefd:  wakefd,
		sources: make(map[int32]source),
		now:     time.Now,
	}
	if err := r.add(wakefd); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("register wake descriptor: %w", err)
	}
	return r, nil
}

func (r *Reactor) add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Register adds fd for read readiness. handle runs once per wait in which
// fd is readable and must consume what it can without blocking.
func (r *Reactor) Register(fd int, name string, handle func()) error {
	if r.State() != StateIdle {
		return errors.New("reactor: register after start")
	}
	if err := r.add(fd); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	r.sources[int32(fd)] = source{name: name, handle: handle}
	return nil
}

// OnInterval sets the task run at most once per Config.Interval. The
// first run happens on the first loop iteration.
func (r *Reactor) OnInterval(fn func(now time.Time)) {
	r.onInterval = fn
}

// State returns the current lifecycle state.
func (r *Reactor) State() State {
	return State(r.state.Load())
}

// Run loops until ctx is cancelled, returning nil, or until the readiness
// wait fails with anything other than EINTR, returning that error.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return errors.New("reactor: already started")
	}
	defer r.state.Store(int32(StateStopped))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			r.wake()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	r.log.Debug().
		Dur("tick", r.cfg.Tick).
		Dur("interval", r.cfg.Interval).
		Int("sources", len(r.sources)).
		Msg("event loop started")

	events := make([]unix.EpollEvent, r.cfg.MaxEvents)
	timeout := int(r.cfg.Tick / time.Millisecond)
	var last time.Time

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(r.epfd, events, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll wait: %w", err)
		}

		for _, ev := range events[:n] {
			if int(ev.Fd) == r.wakefd {
				r.drainWake()
				continue
			}
			src, ok := r.sources[ev.Fd]
			if !ok {
				continue
			}
			if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 && ev.Events&unix.EPOLLIN == 0 {
				r.log.Warn().Str("source", src.name).Uint32("events", ev.Events).Msg("descriptor error")
			}
			src.handle()
		}

		if ctx.Err() != nil {
			return nil
		}

		now := r.now()
		if r.onInterval != nil && (last.IsZero() || now.Sub(last) >= r.cfg.Interval) {
			last = now
			r.onInterval(now)
		}
	}
}

func (r *Reactor) wake() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(r.wakefd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		r.log.Error().Err(err).Msg("wake event loop")
	}
}

func (r *Reactor) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(r.wakefd, buf[:])
}

// Close releases the epoll and wake descriptors. Registered descriptors
// belong to their owners and are left open.
func (r *Reactor) Close() error {
	return errors.Join(unix.Close(r.wakefd), unix.Close(r.epfd))
}
