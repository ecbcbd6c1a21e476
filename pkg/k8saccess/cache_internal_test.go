package k8saccess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func newTestService(namespace, name string, selector map[string]string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       corev1.ServiceSpec{Selector: selector},
	}
}

func newTestPod(namespace, name string, labels map[string]string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels},
		Status:     corev1.PodStatus{Phase: phase},
	}
}

func TestGetPodsForServiceFiltersToRunning(t *testing.T) {
	selector := map[string]string{"app": "redis"}

	clientset := fake.NewSimpleClientset(
		newTestService("default", "redis", selector),
		newTestPod("default", "redis-0", selector, corev1.PodRunning),
		newTestPod("default", "redis-1", selector, corev1.PodPending),
	)

	a := New("", 10*time.Minute, 30*time.Second)
	defer a.Stop()

	a.primeClient("test-context", clientset, nil)

	pods, err := a.GetPodsForService(context.Background(), "test-context", "default", "redis")
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Equal(t, "redis-0", pods[0].Name)
}

func TestGetPodsForServiceCaches(t *testing.T) {
	selector := map[string]string{"app": "redis"}

	clientset := fake.NewSimpleClientset(
		newTestService("default", "redis", selector),
		newTestPod("default", "redis-0", selector, corev1.PodRunning),
	)

	a := New("", 10*time.Minute, 30*time.Second)
	defer a.Stop()

	a.primeClient("test-context", clientset, nil)

	_, err := a.GetPodsForService(context.Background(), "test-context", "default", "redis")
	require.NoError(t, err)

	require.NoError(t, clientset.CoreV1().Pods("default").Delete(context.Background(), "redis-0", metav1.DeleteOptions{}))

	pods, err := a.GetPodsForService(context.Background(), "test-context", "default", "redis")
	require.NoError(t, err)
	assert.Len(t, pods, 1, "cached result should be served until TTL expiry")
}

func TestInvalidatePodCacheFor(t *testing.T) {
	selector := map[string]string{"app": "redis"}

	clientset := fake.NewSimpleClientset(
		newTestService("default", "redis", selector),
		newTestPod("default", "redis-0", selector, corev1.PodRunning),
	)

	a := New("", 10*time.Minute, 30*time.Second)
	defer a.Stop()

	a.primeClient("test-context", clientset, nil)

	_, err := a.GetPodsForService(context.Background(), "test-context", "default", "redis")
	require.NoError(t, err)

	a.InvalidatePodCacheFor("test-context", "default", "redis")

	require.NoError(t, clientset.CoreV1().Pods("default").Delete(context.Background(), "redis-0", metav1.DeleteOptions{}))

	pods, err := a.GetPodsForService(context.Background(), "test-context", "default", "redis")
	require.NoError(t, err)
	assert.Empty(t, pods)
}
