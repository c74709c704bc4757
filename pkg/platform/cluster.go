package platform

import (
	"context"
	"fmt"
	"sort"
	"time"

	specs "github.com/opencontainers/image-spec/specs-go/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// KubeDetector reads the platform from the nodes of a Kubernetes cluster.
type KubeDetector struct {
	Client  kubernetes.Interface
	Timeout time.Duration
}

// NewKubeDetector builds a detector from kubeconfig, or from the default
// loading rules when kubeconfig is empty. It returns nil when no cluster is
// configured at all.
func NewKubeDetector(kubeconfig, kubeContext string, timeout time.Duration) (*KubeDetector, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}

	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		if clientcmd.IsEmptyConfig(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	config.Timeout = timeout

	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return &KubeDetector{Client: client, Timeout: timeout}, nil
}

// Detect returns the most common supported platform among the cluster nodes.
func (d *KubeDetector) Detect(ctx context.Context) (*Platform, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	nodes, err := d.Client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	counts := map[Platform]int{}
	for _, node := range nodes.Items {
		p := nodePlatform(node)
		if IsSupported(p) {
			counts[p]++
		}
	}
	if len(counts) == 0 {
		return nil, nil
	}

	candidates := make([]Platform, 0, len(counts))
	for p := range counts {
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if counts[candidates[i]] != counts[candidates[j]] {
			return counts[candidates[i]] > counts[candidates[j]]
		}
		return candidates[i].String() < candidates[j].String()
	})
	return &candidates[0], nil
}

func nodePlatform(node corev1.Node) Platform {
	os := node.Labels[corev1.LabelOSStable]
	if os == "" {
		os = node.Status.NodeInfo.OperatingSystem
	}
	arch := node.Labels[corev1.LabelArchStable]
	if arch == "" {
		arch = node.Status.NodeInfo.Architecture
	}
	if os == "" || arch == "" {
		return Platform{}
	}
	return FromOCI(specs.Platform{OS: os, Architecture: arch})
}
