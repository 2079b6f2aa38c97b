// Package sandbox provides the client-side handle for one isolated execution
// container: its identity, resolved network address, lifecycle state, and the
// typed file/shell/browser operations the agent issues against it. Creation
// and teardown of the underlying container live in the runtime-specific
// subpackage (docker).
package sandbox

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/warrenlabs/warren/pkg/config"
)

const (
	// DefaultAPIPort is where the in-sandbox tool API listens.
	DefaultAPIPort = 8080
	// DefaultCDPPort is where the in-sandbox Chrome exposes remote debugging.
	DefaultCDPPort = 9222

	apiPrefix = "/api/v1"
)

// Operation timeouts. Control-plane calls are quick; command execution and
// page navigation legitimately run long.
const (
	controlTimeout  = 10 * time.Second
	execTimeout     = 60 * time.Second
	navigateTimeout = 90 * time.Second
)

// Sandbox is the handle for one provisioned container. It is exclusively
// owned by a single logical session; the handle's HTTP client supports
// concurrent in-flight requests, so the owner may overlap tool calls freely.
type Sandbox struct {
	// Name is the generated container name (prefix + random suffix).
	Name string
	// ContainerID is the runtime-assigned identifier.
	ContainerID string
	// Address is the container's IP or hostname on its network.
	Address string
	// Config is the immutable configuration snapshot captured at creation.
	Config config.Sandbox

	// APIPort and CDPPort default to the fixed in-sandbox ports; tests
	// retarget them at local fakes.
	APIPort int
	CDPPort int

	httpc     *http.Client
	mu        sync.Mutex
	state     State
	closeOnce sync.Once
}

// New builds a handle for a container that has been created and resolved to
// an address. The handle starts in AwaitingReady; it must not be used for
// tool calls until the readiness probe has moved it to Ready.
func New(name, containerID, address string, cfg config.Sandbox) *Sandbox {
	return &Sandbox{
		Name:        name,
		ContainerID: containerID,
		Address:     address,
		Config:      cfg,
		APIPort:     DefaultAPIPort,
		CDPPort:     DefaultCDPPort,
		state:       StateAwaitingReady,
		// Per-request timeouts are set on each call's context, not here:
		// a single client timeout cannot serve both a 10s control call
		// and a 90s navigation.
		httpc: &http.Client{},
	}
}

// BaseURL returns the root of the in-sandbox tool API.
func (s *Sandbox) BaseURL() string {
	return "http://" + net.JoinHostPort(s.Address, strconv.Itoa(s.APIPort))
}

func (s *Sandbox) cdpBase() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.CDPPort))
}

// State returns the current lifecycle state.
func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the lifecycle state, rejecting illegal moves.
func (s *Sandbox) SetState(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == next {
		return nil
	}
	if !s.state.CanTransition(next) {
		return invalidTransitionError(s.state, next)
	}
	s.state = next
	return nil
}

// Usable reports whether tool calls may be issued right now.
func (s *Sandbox) Usable() bool {
	st := s.State()
	return st == StateReady || st == StateInUse
}

// Close releases the handle's local network resources. It is safe to call
// more than once and safe to call while tool calls are in flight; those
// calls fail over the wire rather than corrupting the handle.
func (s *Sandbox) Close() {
	s.closeOnce.Do(func() {
		s.httpc.CloseIdleConnections()
	})
}

func (s *Sandbox) String() string {
	return fmt.Sprintf("sandbox %s (%s) at %s [%s]", s.Name, s.ContainerID, s.Address, s.State())
}
