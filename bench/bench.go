package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/instrument/awg"
	"github.com/labiium/pytestlab/instrument/dmm"
	"github.com/labiium/pytestlab/instrument/load"
	"github.com/labiium/pytestlab/instrument/pm"
	"github.com/labiium/pytestlab/instrument/psu"
	"github.com/labiium/pytestlab/instrument/sa"
	"github.com/labiium/pytestlab/instrument/scope"
	"github.com/labiium/pytestlab/instrument/vna"
	"github.com/labiium/pytestlab/internal/labsterr"
	"github.com/labiium/pytestlab/profile"
	"github.com/labiium/pytestlab/simengine"
	pttransport "github.com/labiium/pytestlab/transport"
	"github.com/labiium/pytestlab/transport/hardware"
	"github.com/labiium/pytestlab/transport/recorder"
	"github.com/labiium/pytestlab/transport/replayer"
	"github.com/labiium/pytestlab/transport/sessiondoc"
	"github.com/labiium/pytestlab/transport/simulator"

	"gopkg.in/yaml.v3"
)

// driverFactory constructs a tagged driver for one device type, returning it
// behind the common instrument.Driver interface.
type driverFactory func(tr pttransport.Transport, spec *profile.Spec, alias string, overlay instrument.Overlay, sweep instrument.ErrorSweepMode) instrument.Driver

var defaultFactories = map[profile.DeviceType]driverFactory{
	profile.DeviceOscilloscope: func(tr pttransport.Transport, spec *profile.Spec, alias string, o instrument.Overlay, s instrument.ErrorSweepMode) instrument.Driver {
		return scope.New(tr, spec, alias, o, s)
	},
	profile.DevicePSU: func(tr pttransport.Transport, spec *profile.Spec, alias string, o instrument.Overlay, s instrument.ErrorSweepMode) instrument.Driver {
		return psu.New(tr, spec, alias, o, s)
	},
	profile.DeviceDMM: func(tr pttransport.Transport, spec *profile.Spec, alias string, o instrument.Overlay, s instrument.ErrorSweepMode) instrument.Driver {
		return dmm.New(tr, spec, alias, o, s)
	},
	profile.DeviceAWG: func(tr pttransport.Transport, spec *profile.Spec, alias string, o instrument.Overlay, s instrument.ErrorSweepMode) instrument.Driver {
		return awg.New(tr, spec, alias, o, s)
	},
	profile.DeviceLoad: func(tr pttransport.Transport, spec *profile.Spec, alias string, o instrument.Overlay, s instrument.ErrorSweepMode) instrument.Driver {
		return load.New(tr, spec, alias, o, s)
	},
	profile.DeviceSA: func(tr pttransport.Transport, spec *profile.Spec, alias string, o instrument.Overlay, s instrument.ErrorSweepMode) instrument.Driver {
		return sa.New(tr, spec, alias, o, s)
	},
	profile.DeviceVNA: func(tr pttransport.Transport, spec *profile.Spec, alias string, o instrument.Overlay, s instrument.ErrorSweepMode) instrument.Driver {
		return vna.New(tr, spec, alias, o, s)
	},
	profile.DevicePowerMeter: func(tr pttransport.Transport, spec *profile.Spec, alias string, o instrument.Overlay, s instrument.ErrorSweepMode) instrument.Driver {
		return pm.New(tr, spec, alias, o, s)
	},
}

// Config controls construction-wide behavior not carried by the descriptor.
type Config struct {
	// ForceSimulate overrides every instrument to the Simulator transport,
	// regardless of descriptor settings (spec.md §6's "one environment
	// variable forces global simulation").
	ForceSimulate bool
	SweepMode     instrument.ErrorSweepMode
	SimSeed       int64
	Logger        *slog.Logger
}

type instance struct {
	alias        string
	driver       instrument.Driver
	recorderTr   *recorder.Transport
	recordOutput string
}

// Bench owns a set of connected Instruments built from a Descriptor. It is
// a scoped resource: Close releases every instrument in reverse
// construction order (spec.md §4.4).
type Bench struct {
	name string

	mu        sync.Mutex
	order     []string
	instances map[string]instance
	logger    *slog.Logger
}

// Open resolves every instrument entry's ProfileSpec via catalog, chooses a
// Transport variant, builds and connects its driver, and installs it under
// its alias. Construction is sequential unless desc.ParallelConnect is set.
func Open(ctx context.Context, desc *Descriptor, catalog *profile.Catalog, cfg Config) (*Bench, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	aliases := make([]string, 0, len(desc.Instruments))
	for alias := range desc.Instruments {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	b := &Bench{name: desc.BenchName, instances: map[string]instance{}, logger: cfg.Logger}

	build := func(buildCtx context.Context, alias string) error {
		inst, err := buildInstance(buildCtx, alias, desc, catalog, cfg)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.instances[alias] = inst
		b.order = append(b.order, alias)
		b.mu.Unlock()
		return nil
	}

	if desc.ParallelConnect {
		g, gctx := errgroup.WithContext(ctx)
		for _, alias := range aliases {
			alias := alias
			g.Go(func() error { return build(gctx, alias) })
		}
		if err := g.Wait(); err != nil {
			_ = b.Close(ctx)
			return nil, err
		}
	} else {
		for _, alias := range aliases {
			if err := build(ctx, alias); err != nil {
				_ = b.Close(ctx)
				return nil, err
			}
		}
	}

	return b, nil
}

func buildInstance(ctx context.Context, alias string, desc *Descriptor, catalog *profile.Catalog, cfg Config) (instance, error) {
	entry := desc.Instruments[alias]

	spec, err := catalog.Resolve(entry.Profile)
	if err != nil {
		return instance{}, err
	}

	simulate := desc.Simulate
	if entry.Simulate != nil {
		simulate = *entry.Simulate
	}
	if cfg.ForceSimulate {
		simulate = true
	}

	backend := desc.BackendDefaults
	if entry.Backend != nil {
		backend = *entry.Backend
	}
	if backend.Type == "" {
		if simulate || entry.Address == "" {
			backend.Type = BackendSim
		} else {
			backend.Type = BackendVisa
		}
	}
	if cfg.ForceSimulate {
		backend.Type = BackendSim
	}

	overlay := instrument.MergeOverlay(spec.SafetySchema, benchOverlay(entry.SafetyLimits))

	tr, recTr, err := buildTransport(ctx, alias, spec, entry, backend, cfg)
	if err != nil {
		return instance{}, err
	}

	factory, ok := defaultFactories[spec.DeviceType]
	if !ok {
		return instance{}, labsterr.NewConfigError("bench.Open", fmt.Sprintf("instrument %q: no driver for device_type %q", alias, spec.DeviceType), nil)
	}
	driver := factory(tr, spec, alias, overlay, cfg.SweepMode)

	if err := driver.Connect(ctx, false); err != nil {
		return instance{}, err
	}

	return instance{alias: alias, driver: driver, recorderTr: recTr, recordOutput: entry.RecordOutput}, nil
}

func benchOverlay(limits *SafetyLimits) instrument.Overlay {
	if limits == nil {
		return nil
	}
	out := instrument.Overlay{}
	for ch, quantities := range limits.Channels {
		out[ch] = quantities
	}
	return out
}

func buildTransport(ctx context.Context, alias string, spec *profile.Spec, entry InstrumentEntry, backend BackendConfig, cfg Config) (pttransport.Transport, *recorder.Transport, error) {
	timeout := time.Duration(backend.TimeoutMS) * time.Millisecond

	switch backend.Type {
	case BackendSim:
		return simulator.New(spec, simengine.Config{Seed: cfg.SimSeed}, cfg.Logger), nil, nil

	case BackendVisa:
		hwCfg := hardware.Config{Address: entry.Address}
		if timeout > 0 {
			hwCfg.Timeout = timeout
		}
		tr := hardware.New(hwCfg, cfg.Logger)
		return tr, nil, nil

	case BackendRecord:
		hwCfg := hardware.Config{Address: entry.Address}
		if timeout > 0 {
			hwCfg.Timeout = timeout
		}
		inner := hardware.New(hwCfg, cfg.Logger)
		rec := recorder.New(inner, alias, entry.Profile, cfg.Logger)
		return rec, rec, nil

	case BackendReplay:
		log, err := loadSessionLog(entry.SessionDocument, alias)
		if err != nil {
			return nil, nil, err
		}
		return replayer.New(log, replayer.Config{}, cfg.Logger), nil, nil

	default:
		return nil, nil, labsterr.NewConfigError("bench.Open", fmt.Sprintf("instrument %q: unknown backend type %q", alias, backend.Type), nil)
	}
}

func loadSessionLog(path, alias string) ([]sessiondoc.Entry, error) {
	if path == "" {
		return nil, labsterr.NewConfigError("bench.Open", fmt.Sprintf("instrument %q: backend replay requires session_document", alias), nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, labsterr.NewConfigError("bench.Open", fmt.Sprintf("instrument %q: opening session document", alias), err)
	}
	defer f.Close()

	var doc sessiondoc.Document
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, labsterr.NewConfigError("bench.Open", fmt.Sprintf("instrument %q: decoding session document", alias), err)
	}
	entry, ok := doc[alias]
	if !ok {
		return nil, labsterr.NewConfigError("bench.Open", fmt.Sprintf("instrument %q: session document has no entry for this alias", alias), nil)
	}
	return entry.Log, nil
}

// Instrument returns the driver installed under alias, or nil if none.
func (b *Bench) Instrument(alias string) instrument.Driver {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instances[alias].driver
}

// Aliases returns every installed alias in construction order.
func (b *Bench) Aliases() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

// Close releases every instrument in reverse construction order,
// best-effort: a failure on one instrument does not prevent closing the
// rest. All failures are collected and reported as one composite error
// (spec.md §4.4).
func (b *Bench) Close(ctx context.Context) error {
	b.mu.Lock()
	order := append([]string(nil), b.order...)
	b.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		inst := b.instances[order[i]]
		if inst.recorderTr != nil && inst.recordOutput != "" {
			if f, err := os.Create(inst.recordOutput); err != nil {
				errs = append(errs, err)
			} else {
				if err := inst.recorderTr.WriteDocument(f); err != nil {
					errs = append(errs, err)
				}
				f.Close()
			}
		}
		if err := inst.driver.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
