package forward

import (
	"fmt"
	"time"

	"kubeportal/pkg/forwarder"
	"kubeportal/pkg/k8saccess"
)

// ForwarderDeps carries everything a Definition needs to construct its
// runtime Forwarder, without the forward package importing the manager.
type ForwarderDeps struct {
	GracePeriod time.Duration
	ClientCache k8saccess.ClientCache
	PodLister   k8saccess.PodListCache
}

// CreateForwarder is the only entry point that decides which runtime
// variant to build from a Definition; callers never switch on Type
// themselves.
func (d *Definition) CreateForwarder(deps ForwarderDeps) (forwarder.Forwarder, error) {
	switch d.Type {
	case TypeSocket:
		return forwarder.NewSocketForwarder(d.Name, d.LocalPort, d.RemoteHost, d.RemotePort, deps.GracePeriod), nil
	case TypeKubernetes:
		return forwarder.NewKubernetesForwarder(
			d.Name, d.LocalPort, d.Context, d.Namespace, d.Service, d.ServicePort,
			deps.ClientCache, deps.PodLister, deps.GracePeriod,
		), nil
	default:
		return nil, fmt.Errorf("%w: unknown forward type %q", ErrValidation, d.Type)
	}
}
