package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*KubeOptions)(nil)

// KubeOptions configures the Kubernetes client used by the Secret credential backend.
type KubeOptions struct {
	// Namespace holds the token Secrets.
	Namespace string `json:"namespace" mapstructure:"namespace"`

	// KubeConfig is the path to the kubeconfig file. Empty means in-cluster.
	KubeConfig string `json:"kubeconfig" mapstructure:"kubeconfig"`

	// QPS and Burst throttle the client. Token writes are rare, so the
	// defaults are far below client-go's own.
	QPS   float32 `json:"qps" mapstructure:"qps"`
	Burst int     `json:"burst" mapstructure:"burst"`
}

func NewKubeOptions() *KubeOptions {
	return &KubeOptions{
		Namespace: "fordpass-bridge",
		QPS:       2,
		Burst:     5,
	}
}

func (o *KubeOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Namespace == "" {
		errs = append(errs, errEmpty("kube.namespace"))
	}
	if o.QPS <= 0 || o.Burst <= 0 {
		errs = append(errs, fmt.Errorf("kube.qps and kube.burst must be positive, got %v and %d", o.QPS, o.Burst))
	}

	return errs
}

// AddFlags adds flags for KubeOptions to the specified FlagSet.
func (o *KubeOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Namespace, "kube.namespace", o.Namespace, "The Kubernetes namespace that stores token Secrets.")
	fs.StringVar(&o.KubeConfig, "kube.kubeconfig", o.KubeConfig, "Path to a kubeconfig file. In-cluster configuration is used when empty.")
	fs.Float32Var(&o.QPS, "kube.qps", o.QPS, "Queries per second allowed to the Kubernetes API.")
	fs.IntVar(&o.Burst, "kube.burst", o.Burst, "Burst allowed to the Kubernetes API.")
}
