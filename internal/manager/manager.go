// Package manager owns a backend and serializes imports per record kind.
//
// A Manager is constructed with New, opened with Setup (or SetupAsync) and
// released with Close. Each registered kind gets a writer lane: a FIFO job
// queue drained by one goroutine, so at most one import transaction per kind
// is in flight and imports of the same kind commit in submission order.
//
// Lifecycle:
//
//	new --Setup--> ready --Close--> closed
//	 ^                |
//	 +-- setup error -+
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/config"
	"github.com/roach88/recstore/internal/entity"
	"github.com/roach88/recstore/internal/importer"
	"github.com/roach88/recstore/internal/memstore"
	"github.com/roach88/recstore/internal/record"
	"github.com/roach88/recstore/internal/store"
)

// Step names a phase of Setup.
type Step string

const (
	StepOpen      Step = "open"      // open the backend
	StepConfigure Step = "configure" // inspect existing registrations
	StepRegister  Step = "register"  // register the schema
)

var setupSteps = []Step{StepOpen, StepConfigure, StepRegister}

// Progress is reported after each completed setup step.
type Progress struct {
	Step      Step
	Completed int
	Total     int
}

// Fraction returns completion in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total)
}

type state int

const (
	stateNew state = iota
	stateSettingUp
	stateReady
	stateClosed
)

// Manager is the explicitly constructed store handle.
type Manager struct {
	cfg    config.Config
	logger *slog.Logger
	gen    importer.IDGenerator
	open   func(config.StoreConfig) (backend.Backend, error)
	kinds  []record.Descriptor

	mu         sync.Mutex
	state      state
	backend    backend.Backend
	registered map[string]record.Descriptor
	lanes      map[string]*lane
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithBackend makes Setup use b instead of opening one from config.
func WithBackend(b backend.Backend) Option {
	return func(m *Manager) {
		m.open = func(config.StoreConfig) (backend.Backend, error) { return b, nil }
	}
}

// WithKinds adds kinds to the schema registered by Setup. Without any,
// the built-in Item kind is registered.
func WithKinds(descs ...record.Descriptor) Option {
	return func(m *Manager) {
		m.kinds = append(m.kinds, descs...)
	}
}

// WithBatchIDGenerator overrides the importer's batch id source.
func WithBatchIDGenerator(gen importer.IDGenerator) Option {
	return func(m *Manager) {
		m.gen = gen
	}
}

// New creates a Manager. Nothing is opened until Setup.
func New(cfg config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: slog.Default(),
		open:   openBackend,
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.kinds) == 0 {
		m.kinds = []record.Descriptor{entity.ItemKind().Descriptor()}
	}
	return m
}

// openBackend opens the backend selected by cfg.Driver.
func openBackend(cfg config.StoreConfig) (backend.Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverSQLite3, config.DriverSQLite:
		return store.Open(cfg.Path, store.Options{
			Driver:      cfg.Driver,
			BusyTimeout: cfg.BusyTimeout(),
			JournalMode: cfg.JournalMode,
			Synchronous: cfg.Synchronous,
		})
	}
	return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
}

// Setup opens the backend and registers the schema. onProgress, if non-nil,
// is called after each step on the calling goroutine.
//
// A failed Setup leaves the Manager unopened; Setup may be retried.
func (m *Manager) Setup(ctx context.Context, onProgress func(Progress)) error {
	m.mu.Lock()
	switch m.state {
	case stateSettingUp:
		m.mu.Unlock()
		return precondition(ErrSetupInFlight, "setup", "")
	case stateReady:
		m.mu.Unlock()
		return precondition(ErrAlreadySetup, "setup", "")
	case stateClosed:
		m.mu.Unlock()
		return precondition(ErrClosed, "setup", "")
	}
	m.state = stateSettingUp
	m.mu.Unlock()

	b, err := m.setup(ctx, onProgress)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.state = stateNew
		m.logger.Error("setup failed", "error", err)
		return err
	}

	m.backend = b
	m.registered = make(map[string]record.Descriptor, len(m.kinds))
	m.lanes = make(map[string]*lane, len(m.kinds))
	for _, d := range m.kinds {
		m.registered[d.Name] = d
		m.lanes[d.Name] = startLane(d.Name)
	}
	m.state = stateReady

	m.logger.Info("manager ready", "driver", m.cfg.Store.Driver, "kinds", len(m.kinds))
	return nil
}

func (m *Manager) setup(ctx context.Context, onProgress func(Progress)) (backend.Backend, error) {
	report := func(i int) {
		m.logger.Debug("setup step complete", "step", setupSteps[i])
		if onProgress != nil {
			onProgress(Progress{Step: setupSteps[i], Completed: i + 1, Total: len(setupSteps)})
		}
	}

	entities := make([]backend.Entity, 0, len(m.kinds))
	seen := make(map[string]string, len(m.kinds))
	for _, d := range m.kinds {
		if d.Name == "" || d.KeyPath == "" {
			return nil, &Error{Code: CodePrecondition, Op: "setup", Kind: d.Name, Message: "kind needs a name and key path"}
		}
		if kp, dup := seen[d.Name]; dup && kp != d.KeyPath {
			return nil, &Error{Code: CodePrecondition, Op: "setup", Kind: d.Name, Message: "kind declared twice with different key paths"}
		}
		seen[d.Name] = d.KeyPath
		entities = append(entities, backend.Entity{Name: d.Name, KeyPath: d.KeyPath})
	}

	b, err := m.open(m.cfg.Store)
	if err != nil {
		return nil, backendError("setup", "", fmt.Errorf("open backend: %w", err))
	}
	report(0)

	existing, err := b.Entities(ctx)
	if err != nil {
		b.Close()
		return nil, backendError("setup", "", fmt.Errorf("read registrations: %w", err))
	}
	for _, e := range existing {
		m.logger.Debug("existing entity", "entity", e.Name, "key_path", e.KeyPath)
	}
	report(1)

	if err := b.Register(ctx, entities); err != nil {
		b.Close()
		return nil, backendError("setup", "", fmt.Errorf("register schema: %w", err))
	}
	report(2)

	return b, nil
}

// SetupAsync runs Setup on a new goroutine. onComplete, if non-nil, receives
// the result on that goroutine.
func (m *Manager) SetupAsync(onProgress func(Progress), onComplete func(error)) {
	go func() {
		err := m.Setup(context.Background(), onProgress)
		if onComplete != nil {
			onComplete(err)
		}
	}()
}

// Ready reports whether Setup has completed and Close has not been called.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateReady
}

// Kinds returns the registered kinds ordered by name.
func (m *Manager) Kinds() []record.Descriptor {
	out := append([]record.Descriptor(nil), m.kinds...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// submit queues j on the lane of desc. j receives the backend.
func (m *Manager) submit(op string, desc record.Descriptor, j func(b backend.Backend)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateNew, stateSettingUp:
		return precondition(ErrNotSetup, op, desc.Name)
	case stateClosed:
		return precondition(ErrClosed, op, desc.Name)
	}

	reg, ok := m.registered[desc.Name]
	if !ok {
		return precondition(ErrUnknownKind, op, desc.Name)
	}
	if reg.KeyPath != desc.KeyPath {
		return precondition(ErrKindMismatch, op, desc.Name)
	}

	b := m.backend
	if !m.lanes[desc.Name].submit(func() { j(b) }) {
		return precondition(ErrClosed, op, desc.Name)
	}
	return nil
}

// reader returns the backend for a read of kind.
func (m *Manager) reader(op, kind string) (backend.Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateNew, stateSettingUp:
		return nil, precondition(ErrNotSetup, op, kind)
	case stateClosed:
		return nil, precondition(ErrClosed, op, kind)
	}
	if kind != "" {
		if _, ok := m.registered[kind]; !ok {
			return nil, precondition(ErrUnknownKind, op, kind)
		}
	}
	return m.backend, nil
}

// Get returns the committed row of kind with key.
func (m *Manager) Get(ctx context.Context, kind, key string) (backend.Row, bool, error) {
	b, err := m.reader("get", kind)
	if err != nil {
		return backend.Row{}, false, err
	}
	row, ok, err := b.Get(ctx, kind, key)
	if err != nil {
		return backend.Row{}, false, backendError("get", kind, err)
	}
	return row, ok, nil
}

// List returns committed rows of kind ordered by key.
func (m *Manager) List(ctx context.Context, kind string, opts backend.ListOptions) ([]backend.Row, error) {
	b, err := m.reader("list", kind)
	if err != nil {
		return nil, err
	}
	rows, err := b.List(ctx, kind, opts)
	if err != nil {
		return nil, backendError("list", kind, err)
	}
	return rows, nil
}

// Count returns the number of committed rows of kind.
func (m *Manager) Count(ctx context.Context, kind string) (int, error) {
	b, err := m.reader("count", kind)
	if err != nil {
		return 0, err
	}
	n, err := b.Count(ctx, kind)
	if err != nil {
		return 0, backendError("count", kind, err)
	}
	return n, nil
}

// Batches returns the import log of kind, oldest first.
func (m *Manager) Batches(ctx context.Context, kind string) ([]backend.Batch, error) {
	b, err := m.reader("batches", kind)
	if err != nil {
		return nil, err
	}
	batches, err := b.Batches(ctx, kind)
	if err != nil {
		return nil, backendError("batches", kind, err)
	}
	return batches, nil
}

// Close stops accepting work, waits for queued jobs and closes the backend.
// If ctx ends first, Close returns its error and the backend is closed in
// the background once the lanes drain. Closing twice is a no-op.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case stateClosed:
		m.mu.Unlock()
		return nil
	case stateSettingUp:
		m.mu.Unlock()
		return precondition(ErrSetupInFlight, "close", "")
	case stateNew:
		m.state = stateClosed
		m.mu.Unlock()
		return nil
	}
	m.state = stateClosed
	lanes := make([]*lane, 0, len(m.lanes))
	for _, l := range m.lanes {
		lanes = append(lanes, l)
	}
	b := m.backend
	m.mu.Unlock()

	for _, l := range lanes {
		l.stop()
	}

	drained := make(chan struct{})
	go func() {
		for _, l := range lanes {
			<-l.done
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		go func() {
			<-drained
			if err := b.Close(); err != nil {
				m.logger.Error("close backend", "error", err)
			}
		}()
		return fmt.Errorf("close: %w", ctx.Err())
	}

	if err := b.Close(); err != nil {
		return backendError("close", "", err)
	}
	m.logger.Info("manager closed")
	return nil
}
