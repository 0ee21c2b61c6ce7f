package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/homedir"

	"github.com/gluk-w/claworc/webshell/internal/logging"
)

// KubernetesOrchestrator treats pods in one namespace as containers. A
// container id is either "<pod>" or "<pod>/<container>".
type KubernetesOrchestrator struct {
	Namespace   string
	ImageFilter string

	clientset  kubernetes.Interface
	restConfig *rest.Config
	available  bool
	inCluster  bool
	log        *zap.Logger
}

func (k *KubernetesOrchestrator) Initialize(ctx context.Context) error {
	k.log = logging.Named("orchestrator").With(zap.String("backend", "kubernetes"))

	cfg, err := rest.InClusterConfig()
	if err == nil {
		k.inCluster = true
	} else {
		kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
		if home := homedir.HomeDir(); home != "" && kubeconfig == "" {
			kubeconfig = home + "/.kube/config"
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return fmt.Errorf("k8s config: %w", err)
		}
	}

	k.restConfig = cfg
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return fmt.Errorf("k8s clientset: %w", err)
	}
	k.clientset = clientset

	if _, err := k.clientset.CoreV1().Namespaces().Get(ctx, k.ns(), metav1.GetOptions{}); err != nil {
		return fmt.Errorf("k8s namespace check: %w", err)
	}

	k.available = true
	k.log.Info("Kubernetes API connected", zap.String("namespace", k.ns()), zap.Bool("in_cluster", k.inCluster))
	return nil
}

func (k *KubernetesOrchestrator) IsAvailable(_ context.Context) bool {
	return k.available
}

func (k *KubernetesOrchestrator) BackendName() string {
	return "kubernetes"
}

func (k *KubernetesOrchestrator) ns() string {
	if k.Namespace == "" {
		return "default"
	}
	return k.Namespace
}

func (k *KubernetesOrchestrator) Ping(ctx context.Context) error {
	if _, err := k.clientset.CoreV1().Namespaces().Get(ctx, k.ns(), metav1.GetOptions{}); err != nil {
		return fmt.Errorf("k8s ping: %w", err)
	}
	return nil
}

func (k *KubernetesOrchestrator) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	pods, err := k.clientset.CoreV1().Pods(k.ns()).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}

	now := time.Now()
	var result []ContainerInfo
	for i := range pods.Items {
		pod := &pods.Items[i]
		if len(pod.Spec.Containers) == 0 || !matchesImageFilter(pod.Spec.Containers[0].Image, k.ImageFilter) {
			continue
		}
		result = append(result, podToInfo(pod, now))
	}
	return result, nil
}

func (k *KubernetesOrchestrator) CreateContainer(ctx context.Context, params CreateParams) (*ContainerInfo, error) {
	pod := buildPod(containerName(params.NamePrefix, time.Now()), k.ns(), params)
	created, err := k.clientset.CoreV1().Pods(k.ns()).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("create pod: %w", err)
	}
	k.log.Info("Pod created", zap.String("pod", created.Name))
	info := podToInfo(created, time.Now())
	return &info, nil
}

func (k *KubernetesOrchestrator) DeleteContainer(ctx context.Context, id string) error {
	podName, _ := parsePodRef(id)
	err := k.clientset.CoreV1().Pods(k.ns()).Delete(ctx, podName, metav1.DeleteOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return fmt.Errorf("delete pod %s: %w", podName, err)
	}
	k.log.Info("Pod deleted", logging.Container(podName))
	return nil
}

// termSizeQueue implements remotecommand.TerminalSizeQueue via a channel.
type termSizeQueue struct {
	ch chan remotecommand.TerminalSize
}

func (q *termSizeQueue) Next() *remotecommand.TerminalSize {
	size, ok := <-q.ch
	if !ok {
		return nil
	}
	return &size
}

// push replaces any size not yet consumed, so only the latest is applied.
func (q *termSizeQueue) push(size remotecommand.TerminalSize) {
	select {
	case <-q.ch:
	default:
	}
	select {
	case q.ch <- size:
	default:
	}
}

func (k *KubernetesOrchestrator) ExecInteractive(ctx context.Context, id string, cmd []string) (*ExecSession, error) {
	podName, ctr := parsePodRef(id)
	pod, err := k.clientset.CoreV1().Pods(k.ns()).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return nil, fmt.Errorf("get pod %s: %w", podName, err)
	}
	if pod.Status.Phase != corev1.PodRunning {
		return nil, fmt.Errorf("%w: %s (phase %s)", ErrContainerNotRunning, id, pod.Status.Phase)
	}

	req := k.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(k.ns()).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: ctr,
			Command:   cmd,
			Stdin:     true,
			Stdout:    true,
			Stderr:    false,
			TTY:       true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(k.restConfig, "POST", req.URL())
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	sizeQueue := &termSizeQueue{ch: make(chan remotecommand.TerminalSize, 1)}
	sizeQueue.push(remotecommand.TerminalSize{Width: DefaultConsoleSize.Cols, Height: DefaultConsoleSize.Rows})

	// The stream must outlive the attach request.
	streamCtx, cancel := context.WithCancel(context.Background())
	go func() {
		err := exec.StreamWithContext(streamCtx, remotecommand.StreamOptions{
			Stdin:             stdinR,
			Stdout:            stdoutW,
			Tty:               true,
			TerminalSizeQueue: sizeQueue,
		})
		if err != nil && streamCtx.Err() == nil {
			k.log.Warn("exec stream ended", logging.Container(id), zap.Error(err))
			stdoutW.CloseWithError(err)
			return
		}
		stdoutW.Close()
	}()

	var closeOnce sync.Once
	return NewExecSession(stdinW, stdoutR,
		func(cols, rows uint16) error {
			sizeQueue.push(remotecommand.TerminalSize{Width: cols, Height: rows})
			return nil
		},
		func() error {
			closeOnce.Do(func() {
				cancel()
				close(sizeQueue.ch)
				stdinW.Close()
				stdinR.Close()
				stdoutR.Close()
			})
			return nil
		}), nil
}

// parsePodRef splits "pod/container" into its parts; container may be empty.
func parsePodRef(id string) (pod, container string) {
	pod, container, _ = strings.Cut(id, "/")
	return pod, container
}

func buildPod(name, ns string, params CreateParams) *corev1.Pod {
	labels := map[string]string{"managed-by": labelManagedBy, "app": name}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: labels},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:    "shell",
				Image:   params.Image,
				Command: []string{params.Shell},
				Stdin:   true,
				TTY:     true,
			}},
		},
	}
}

func podToInfo(pod *corev1.Pod, now time.Time) ContainerInfo {
	info := ContainerInfo{
		ID:      pod.Name,
		Name:    pod.Name,
		State:   strings.ToLower(string(pod.Status.Phase)),
		Status:  string(pod.Status.Phase),
		Created: pod.CreationTimestamp.Time,
	}
	if len(pod.Spec.Containers) > 0 {
		info.Image = pod.Spec.Containers[0].Image
	}
	if !info.Created.IsZero() {
		info.Age = units.HumanDuration(now.Sub(info.Created))
	}
	return info
}

// Ensure KubernetesOrchestrator implements ContainerOrchestrator
var _ ContainerOrchestrator = (*KubernetesOrchestrator)(nil)
