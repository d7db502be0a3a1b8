package rtpod

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// Registrar receives thread registration events when a registry is
// configured; the registry itself lives outside the core.
type Registrar interface {
	Register(t *Thread)
	Unregister(t *Thread)
}

// Config models the pod's build-time feature selection. Zero values give a
// single-CPU pod on the simulator architecture with FPU management and
// every optional subsystem off.
type Config struct {
	// FPU enables FPU context save/restore across switches.
	FPU bool

	// Pervasive enables the user-space shadow bridge; without it the
	// Shadow creation flag is rejected.
	Pervasive bool

	// IShield honours the interrupt-shield mode bit; without it Shielded
	// is silently stripped.
	IShield bool

	// PrioCoupling enables the root-priority coupling check in the
	// reschedule IPI handler, which runs only when the slot's remote-pick
	// status is set; no service of this package sets that status.
	PrioCoupling bool

	// Stats maintains per-thread execution-time and switch accounting.
	Stats bool

	// Watchdog arms a per-CPU watchdog against runaway threads.
	Watchdog bool

	// WatchdogPeriod is the watchdog tick period. Defaults to one second.
	WatchdogPeriod Ticks

	// StackPoolSize, when positive, draws kernel stacks from a dedicated
	// pool of that many bytes instead of the Go heap.
	StackPoolSize int

	// SMP builds one scheduler slot per online CPU; otherwise a single
	// slot is used regardless of the architecture's CPU count.
	SMP bool

	// UnlockedSwitch drops the pod lock across the machine context
	// switch, with post-switch reconciliation.
	UnlockedSwitch bool

	// Latency is the intrinsic scheduling latency figure; periodic
	// releases shorter than it are rejected.
	Latency Ticks

	// TickPeriod is the emulated host tick period, which is also the
	// round-robin accounting granularity. Defaults to one millisecond.
	TickPeriod Ticks

	// DefaultStackSize is used when InitThread is given a zero stack
	// size. Defaults to 32 KiB.
	DefaultStackSize int

	// Debug arms the scheduler's internal consistency assertions, which
	// latch a fatal condition when they trip.
	Debug bool

	arch     Arch
	class    SchedClass
	shadow   ShadowBridge
	logger   *logiface.Logger[logiface.Event]
	registry Registrar
}

// Option configures a pod at construction.
type Option func(*Config) error

// WithConfig replaces the whole feature selection in one go.
func WithConfig(conf Config) Option {
	return func(c *Config) error {
		arch, class, shadow, logger, registry := c.arch, c.class, c.shadow, c.logger, c.registry
		*c = conf
		if c.arch == nil {
			c.arch = arch
		}
		if c.class == nil {
			c.class = class
		}
		if c.shadow == nil {
			c.shadow = shadow
		}
		if c.logger == nil {
			c.logger = logger
		}
		if c.registry == nil {
			c.registry = registry
		}
		return nil
	}
}

// WithArch selects the architecture layer. Defaults to a single-CPU
// [SimArch].
func WithArch(arch Arch) Option {
	return func(c *Config) error {
		if arch == nil {
			return fmt.Errorf(`%w: nil arch`, ErrInvalid)
		}
		c.arch = arch
		return nil
	}
}

// WithSchedClass selects the ready-queue policy. Defaults to the built-in
// priority-FIFO class.
func WithSchedClass(class SchedClass) Option {
	return func(c *Config) error {
		c.class = class
		return nil
	}
}

// WithShadowBridge wires the user-space bridge and enables Pervasive.
func WithShadowBridge(bridge ShadowBridge) Option {
	return func(c *Config) error {
		c.shadow = bridge
		c.Pervasive = bridge != nil
		return nil
	}
}

// WithLogger attaches a structured logger; pod events trace through it.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithRegistry wires a thread registry notified on creation and deletion.
func WithRegistry(r Registrar) Option {
	return func(c *Config) error {
		c.registry = r
		return nil
	}
}

// WithFPU toggles FPU context management.
func WithFPU(on bool) Option {
	return func(c *Config) error { c.FPU = on; return nil }
}

// WithSMP enables one scheduler slot per online CPU.
func WithSMP(on bool) Option {
	return func(c *Config) error { c.SMP = on; return nil }
}

// WithUnlockedSwitch drops the pod lock across context switches.
func WithUnlockedSwitch(on bool) Option {
	return func(c *Config) error { c.UnlockedSwitch = on; return nil }
}

// WithStats enables execution-time accounting.
func WithStats(on bool) Option {
	return func(c *Config) error { c.Stats = on; return nil }
}

// WithWatchdog arms the per-CPU watchdog with the given period.
func WithWatchdog(period time.Duration) Option {
	return func(c *Config) error {
		c.Watchdog = true
		c.WatchdogPeriod = Ticks(period)
		return nil
	}
}

// WithStackPool draws thread stacks from a dedicated pool of size bytes.
func WithStackPool(size int) Option {
	return func(c *Config) error {
		if size < 0 {
			return fmt.Errorf(`%w: negative stack pool size`, ErrInvalid)
		}
		c.StackPoolSize = size
		return nil
	}
}

// WithLatency declares the intrinsic scheduling latency figure.
func WithLatency(latency time.Duration) Option {
	return func(c *Config) error { c.Latency = Ticks(latency); return nil }
}

// WithTickPeriod sets the emulated host tick period.
func WithTickPeriod(period time.Duration) Option {
	return func(c *Config) error {
		if period <= 0 {
			return fmt.Errorf(`%w: non-positive tick period`, ErrInvalid)
		}
		c.TickPeriod = Ticks(period)
		return nil
	}
}

// WithDebug arms the scheduler's internal consistency assertions.
func WithDebug(on bool) Option {
	return func(c *Config) error { c.Debug = on; return nil }
}

// WithIShield honours the interrupt-shield mode bit.
func WithIShield(on bool) Option {
	return func(c *Config) error { c.IShield = on; return nil }
}

// WithPrioCoupling enables root-priority coupling checks.
func WithPrioCoupling(on bool) Option {
	return func(c *Config) error { c.PrioCoupling = on; return nil }
}

func resolveConfig(opts []Option) (Config, error) {
	var c Config
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&c); err != nil {
			return Config{}, err
		}
	}
	if c.arch == nil {
		c.arch = NewSimArch(1)
	}
	if c.WatchdogPeriod == 0 {
		c.WatchdogPeriod = Ticks(time.Second)
	}
	if c.TickPeriod == 0 {
		c.TickPeriod = Ticks(time.Millisecond)
	}
	if c.DefaultStackSize == 0 {
		c.DefaultStackSize = 32 << 10
	}
	return c, nil
}
