package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func node(name, os, arch string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				corev1.LabelOSStable:   os,
				corev1.LabelArchStable: arch,
			},
		},
	}
}

func TestKubeDetectorMajority(t *testing.T) {
	client := fake.NewSimpleClientset(
		node("a", "linux", "arm64"),
		node("b", "linux", "arm64"),
		node("c", "linux", "amd64"),
		node("d", "windows", "amd64"),
	)
	d := &KubeDetector{Client: client}

	p, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, LinuxARM64, *p)
}

func TestKubeDetectorNodeInfoFallback(t *testing.T) {
	n := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "legacy"}}
	n.Status.NodeInfo.OperatingSystem = "linux"
	n.Status.NodeInfo.Architecture = "amd64"
	d := &KubeDetector{Client: fake.NewSimpleClientset(n)}

	p, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Equal(t, LinuxAMD64, *p)
}

func TestKubeDetectorNoNodes(t *testing.T) {
	d := &KubeDetector{Client: fake.NewSimpleClientset()}

	p, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestKubeDetectorListError(t *testing.T) {
	client := fake.NewSimpleClientset()
	client.PrependReactor("list", "nodes", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("forbidden")
	})
	d := &KubeDetector{Client: client}

	_, err := d.Detect(context.Background())
	require.ErrorContains(t, err, "forbidden")
}

func TestNewKubeDetectorWithoutConfig(t *testing.T) {
	t.Setenv("KUBECONFIG", "")
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("HOME", t.TempDir())

	d, err := NewKubeDetector("", "", 0)
	require.NoError(t, err)
	require.Nil(t, d)
}
