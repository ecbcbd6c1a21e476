package forwarder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/httpstream"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"

	"kubeportal/pkg/k8saccess"
	"kubeportal/pkg/logger"
)

// kubernetesForwarder relays each accepted client connection to a pod
// selected from a Kubernetes Service, over a fresh SPDY port-forward
// stream per connection. The access cache resolves the API client and the
// candidate pod list; the first Running pod is always chosen, so
// behavior is sticky within the pod-list cache's TTL window.
type kubernetesForwarder struct {
	*baseForwarder

	kubeContext string
	namespace   string
	service     string
	servicePort int

	access      k8saccess.ClientCache
	podLister   k8saccess.PodListCache
	requestSeq  atomic.Int64
}

// NewKubernetesForwarder constructs the kubernetes variant of the forwarder.
func NewKubernetesForwarder(
	name string,
	localPort int,
	kubeContext, namespace, service string,
	servicePort int,
	access k8saccess.ClientCache,
	podLister k8saccess.PodListCache,
	gracePeriod time.Duration,
) Forwarder {
	f := &kubernetesForwarder{
		kubeContext: kubeContext,
		namespace:   namespace,
		service:     service,
		servicePort: servicePort,
		access:      access,
		podLister:   podLister,
	}
	f.baseForwarder = newBaseForwarder(name, localPort, gracePeriod, f.dialRemote)

	return f
}

func (f *kubernetesForwarder) dialRemote(ctx context.Context, id uuid.UUID) (io.ReadWriteCloser, error) {
	pods, err := f.podLister.GetPodsForService(ctx, f.kubeContext, f.namespace, f.service)
	if err != nil {
		return nil, fmt.Errorf("%w: listing pods for %s/%s: %v", ErrKubernetesError, f.namespace, f.service, err)
	}

	if len(pods) == 0 {
		return nil, fmt.Errorf("%w: no running pods behind service %s/%s", ErrKubernetesError, f.namespace, f.service)
	}

	// Deliberately not random: the first pod in list order is selected every
	// time within a cache-TTL window, which stabilizes long-lived protocols.
	pod := pods[0]

	_, restConfig, err := f.access.GetClient(f.kubeContext)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving client for context %s: %v", ErrKubernetesError, f.kubeContext, err)
	}

	transport, upgrader, err := spdy.RoundTripperFor(restConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: building spdy round tripper: %v", ErrKubernetesError, err)
	}

	hostURL, err := url.Parse(restConfig.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid REST config host: %v", ErrKubernetesError, err)
	}

	path := fmt.Sprintf("/api/v1/namespaces/%s/pods/%s/portforward", pod.Namespace, pod.Name)
	fullURL := hostURL.ResolveReference(&url.URL{Path: path})

	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, fullURL)

	streamConn, _, err := dialer.Dial(portforward.PortForwardProtocolV1Name)
	if err != nil {
		// The cached pod may already be gone (evicted, rescheduled); nothing
		// refreshes the list until its TTL expires, so a dead entry would
		// keep failing every connection until then. Drop it so the next
		// connection re-resolves.
		f.podLister.InvalidatePodCacheFor(f.kubeContext, f.namespace, f.service)
		return nil, fmt.Errorf("%w: dialing pod %s: %v", ErrKubernetesError, pod.Name, err)
	}

	requestID := strconv.FormatInt(f.requestSeq.Add(1), 10)

	errorStream, err := streamConn.CreateStream(streamHeaders(corev1.StreamTypeError, f.servicePort, requestID))
	if err != nil {
		streamConn.Close()
		return nil, fmt.Errorf("%w: opening error stream to pod %s: %v", ErrKubernetesError, pod.Name, err)
	}
	errorStream.Close()

	dataStream, err := streamConn.CreateStream(streamHeaders(corev1.StreamTypeData, f.servicePort, requestID))
	if err != nil {
		streamConn.Close()
		return nil, fmt.Errorf("%w: opening data stream to pod %s: %v", ErrKubernetesError, pod.Name, err)
	}

	go watchErrorStream(errorStream, pod.Name, id)

	return &podStream{data: dataStream, conn: streamConn}, nil
}

func streamHeaders(streamType string, port int, requestID string) http.Header {
	headers := http.Header{}
	headers.Set(corev1.StreamType, streamType)
	headers.Set(corev1.PortHeader, strconv.Itoa(port))
	headers.Set(corev1.PortForwardRequestIDHeader, requestID)

	return headers
}

func watchErrorStream(errorStream httpstream.Stream, podName string, id uuid.UUID) {
	buf := make([]byte, 1024)

	n, err := errorStream.Read(buf)
	if n > 0 {
		logger.Log(logger.LevelWarn,
			map[string]string{"pod": podName, "connection": id.String()}, string(buf[:n]),
			"kubernetes port-forward error stream")
	}

	_ = err
}

// podStream adapts a Kubernetes port-forward data stream plus its owning
// SPDY connection to a single io.ReadWriteCloser for the shared pump.
type podStream struct {
	data httpstream.Stream
	conn httpstream.Connection
}

func (s *podStream) Read(p []byte) (int, error)  { return s.data.Read(p) }
func (s *podStream) Write(p []byte) (int, error) { return s.data.Write(p) }

func (s *podStream) Close() error {
	_ = s.data.Close()
	return s.conn.Close()
}
