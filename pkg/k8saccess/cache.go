// Package k8saccess is the Kubernetes access cache: a process-wide
// singleton pooling API clients per context and caching Service pod-list
// lookups for a short TTL, so bursts of new connections don't each pay for
// a fresh client build or a fresh Service/Pods round trip.
package k8saccess

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"kubeportal/pkg/cache"
)

const sweepInterval = 60 * time.Second

// apiClient bundles the clientset and REST config for one context, the way
// the forwarder needs both to open a port-forward SPDY dial.
type apiClient struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
}

// podListKey identifies a cached pod-list lookup.
type podListKey struct {
	context   string
	namespace string
	service   string
}

// ClientCache resolves and caches a Kubernetes API client per context.
type ClientCache interface {
	GetClient(kubeContext string) (kubernetes.Interface, *rest.Config, error)
}

// PodListCache resolves and caches the Running pods behind a Service.
type PodListCache interface {
	GetPodsForService(ctx context.Context, kubeContext, namespace, service string) ([]corev1.Pod, error)
	InvalidatePodCache()
	InvalidatePodCacheFor(kubeContext, namespace, service string)
}

// Access is the combined client and pod-list cache.
type Access struct {
	kubeConfigPath string
	clientTTL      time.Duration
	podTTL         time.Duration

	clients  cache.Cache[*apiClient]
	podLists cache.Cache[[]corev1.Pod]
}

// New constructs the access cache. clientTTL and podTTL default to 10
// minutes and 30 seconds respectively when the daemon config doesn't
// override them.
func New(kubeConfigPath string, clientTTL, podTTL time.Duration) *Access {
	return &Access{
		kubeConfigPath: kubeConfigPath,
		clientTTL:      clientTTL,
		podTTL:         podTTL,
		clients:        cache.New[*apiClient](sweepInterval),
		podLists:       cache.New[[]corev1.Pod](sweepInterval),
	}
}

// Stop halts the background sweep goroutines backing both caches.
func (a *Access) Stop() {
	a.clients.Stop()
	a.podLists.Stop()
}

// GetClient returns the cached client for kubeContext, building and caching
// a fresh one on a miss or expiry. Replacement simply drops the prior
// client; client-go clientsets hold no resources that need explicit close.
func (a *Access) GetClient(kubeContext string) (kubernetes.Interface, *rest.Config, error) {
	if c, ok := a.clients.Get(kubeContext); ok {
		return c.clientset, c.restConfig, nil
	}

	restConfig, err := a.buildRestConfig(kubeContext)
	if err != nil {
		return nil, nil, fmt.Errorf("building rest config for context %q: %w", kubeContext, err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("building clientset for context %q: %w", kubeContext, err)
	}

	a.clients.SetWithTTL(kubeContext, &apiClient{clientset: clientset, restConfig: restConfig}, a.clientTTL)

	return clientset, restConfig, nil
}

// primeClient seeds the client cache directly, bypassing kubeconfig
// resolution. Used by tests that supply a fake clientset.
func (a *Access) primeClient(kubeContext string, clientset kubernetes.Interface, restConfig *rest.Config) {
	a.clients.SetWithTTL(kubeContext, &apiClient{clientset: clientset, restConfig: restConfig}, a.clientTTL)
}

// buildRestConfig resolves a *rest.Config scoped to kubeContext using the
// standard kubeconfig loading rules.
func (a *Access) buildRestConfig(kubeContext string) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if a.kubeConfigPath != "" {
		loadingRules.ExplicitPath = a.kubeConfigPath
	}

	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}

	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)

	return clientConfig.ClientConfig()
}

// GetPodsForService returns the Running pods selected by the Service's
// label selector, via the cache on a hit or a fresh Service+Pods lookup on
// a miss. Concurrent misses for the same key may each fetch independently;
// the result is the same snapshot either way, so they are not collapsed.
func (a *Access) GetPodsForService(ctx context.Context, kubeContext, namespace, service string) ([]corev1.Pod, error) {
	key := podListKey{context: kubeContext, namespace: namespace, service: service}.String()

	if pods, ok := a.podLists.Get(key); ok {
		return pods, nil
	}

	clientset, _, err := a.GetClient(kubeContext)
	if err != nil {
		return nil, err
	}

	svc, err := clientset.CoreV1().Services(namespace).Get(ctx, service, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting service %s/%s: %w", namespace, service, err)
	}

	selector := labels.SelectorFromSet(svc.Spec.Selector)

	podList, err := clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("listing pods for service %s/%s: %w", namespace, service, err)
	}

	running := filterRunning(podList.Items)

	a.podLists.SetWithTTL(key, running, a.podTTL)

	return running, nil
}

// InvalidatePodCache evicts every cached pod-list entry.
func (a *Access) InvalidatePodCache() {
	a.podLists.Clear()
}

// InvalidatePodCacheFor evicts one cached pod-list entry.
func (a *Access) InvalidatePodCacheFor(kubeContext, namespace, service string) {
	key := podListKey{context: kubeContext, namespace: namespace, service: service}.String()
	a.podLists.Delete(key)
}

func filterRunning(pods []corev1.Pod) []corev1.Pod {
	running := make([]corev1.Pod, 0, len(pods))

	for _, pod := range pods {
		if pod.Status.Phase == corev1.PodRunning {
			running = append(running, pod)
		}
	}

	return running
}

func (k podListKey) String() string {
	return k.context + "/" + k.namespace + "/" + k.service
}
