package sandbox

import "fmt"

// ProvisionKind classifies why provisioning failed. Provisioning is never
// retried at this layer, so the kind exists for the caller's policy decisions
// and for log attribution, not for control flow inside the core.
type ProvisionKind string

const (
	// KindRuntimeUnavailable: the container runtime could not be reached.
	KindRuntimeUnavailable ProvisionKind = "runtime-unavailable"
	// KindImageNotFound: the configured image does not exist locally.
	KindImageNotFound ProvisionKind = "image-not-found"
	// KindNameConflict: a container with the generated name already exists.
	KindNameConflict ProvisionKind = "name-conflict"
	// KindNetworkNotFound: the configured network does not exist.
	KindNetworkNotFound ProvisionKind = "network-not-found"
	// KindUnaddressable: the container started but resolved to no address.
	KindUnaddressable ProvisionKind = "unaddressable"
	// KindCreateFailed: any other creation or start failure.
	KindCreateFailed ProvisionKind = "create-failed"
)

// ProvisionError is returned when a sandbox could not be brought to an
// addressable state. The container, if any was created, has already been
// cleaned up best-effort by the time the caller sees this.
type ProvisionError struct {
	Kind          ProvisionKind
	ContainerName string
	Err           error
}

func (e *ProvisionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provisioning %s: %s", e.ContainerName, e.Kind)
	}
	return fmt.Sprintf("provisioning %s: %s: %v", e.ContainerName, e.Kind, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }
