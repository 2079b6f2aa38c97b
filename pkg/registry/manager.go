package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warrenlabs/warren/pkg/config"
	"github.com/warrenlabs/warren/pkg/probe"
	"github.com/warrenlabs/warren/pkg/sandbox"
)

// Runtime is the container-runtime boundary the manager drives. Implemented
// by sandbox/docker.Manager; faked in tests.
type Runtime interface {
	Provision(ctx context.Context, cfg config.Sandbox, sessionID string) (*sandbox.Sandbox, error)
	Destroy(ctx context.Context, sb *sandbox.Sandbox) bool
}

// Record is the durable trace of one sandbox lifecycle.
type Record struct {
	SessionID   string
	Name        string
	ContainerID string
	Address     string
	Image       string
	State       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store persists lifecycle records. Persistence failures are logged, not
// propagated: the record is an audit trail, not a source of truth.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, sessionID string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// Manager sequences the sandbox lifecycle for sessions: provision →
// await-ready → register on acquire, deregister → destroy on release. It is
// the explicit owner of the Registry.
type Manager struct {
	runtime Runtime
	cfg     config.Sandbox
	policy  probe.Policy
	store   Store // nil disables persistence
	reg     *Registry

	// await is probe.AwaitReady unless a test injects a stand-in.
	await func(ctx context.Context, sb *sandbox.Sandbox, p probe.Policy) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore attaches a lifecycle record store.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithProbePolicy overrides the default readiness policy.
func WithProbePolicy(p probe.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// NewManager builds a Manager around the given runtime and configuration.
func NewManager(runtime Runtime, cfg config.Sandbox, opts ...Option) *Manager {
	m := &Manager{
		runtime: runtime,
		cfg:     cfg,
		policy:  probe.DefaultPolicy(),
		reg:     NewRegistry(),
		await:   probe.AwaitReady,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire provisions a sandbox for the session, waits until it is ready,
// and registers it. A sandbox that provisions but never becomes ready is
// destroyed before the error is returned, so failure leaves nothing behind.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*sandbox.Sandbox, error) {
	if existing, ok := m.reg.Get(sessionID); ok {
		return nil, alreadyAcquiredError(sessionID, existing.Name)
	}

	sb, err := m.runtime.Provision(ctx, m.cfg, sessionID)
	if err != nil {
		return nil, err
	}

	if err := m.await(ctx, sb, m.policy); err != nil {
		slog.Warn("Sandbox never became ready, destroying", "session", sessionID, "sandbox", sb.Name, "error", err)
		m.runtime.Destroy(ctx, sb)
		m.record(ctx, sessionID, sb)
		return nil, err
	}

	if err := m.reg.Add(sessionID, sb); err != nil {
		// Lost a race with a concurrent Acquire for the same session.
		m.runtime.Destroy(ctx, sb)
		return nil, err
	}
	m.record(ctx, sessionID, sb)
	return sb, nil
}

// Get returns the session's registered sandbox, if any.
func (m *Manager) Get(sessionID string) (*sandbox.Sandbox, bool) {
	return m.reg.Get(sessionID)
}

// Release deregisters and destroys the session's sandbox. Releasing a
// session that has no sandbox is success: the desired end state already
// holds. Returns false only when the container could not be removed.
func (m *Manager) Release(ctx context.Context, sessionID string) bool {
	sb, ok := m.reg.Remove(sessionID)
	if !ok {
		return true
	}
	ok = m.runtime.Destroy(ctx, sb)
	m.record(ctx, sessionID, sb)
	return ok
}

// Shutdown releases every registered session. Used on owner teardown;
// failures are logged per sandbox and do not stop the sweep.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, id := range m.reg.Sessions() {
		if !m.Release(ctx, id) {
			slog.Error("Failed to release sandbox during shutdown", "session", id)
		}
	}
}

func (m *Manager) record(ctx context.Context, sessionID string, sb *sandbox.Sandbox) {
	if m.store == nil {
		return
	}
	rec := Record{
		SessionID:   sessionID,
		Name:        sb.Name,
		ContainerID: sb.ContainerID,
		Address:     sb.Address,
		Image:       sb.Config.Image,
		State:       sb.State().String(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := m.store.Put(ctx, rec); err != nil {
		slog.Warn("Failed to persist sandbox record", "session", sessionID, "error", err)
	}
}

func alreadyAcquiredError(sessionID, name string) error {
	return fmt.Errorf("session %s already owns sandbox %s", sessionID, name)
}
