package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/autopeer-io/fordpass-bridge/pkg/options"
)

const (
	// SecretDataKey is the Secret data entry holding the JSON record.
	SecretDataKey = "token.json"

	secretPrefix = "fordpass-token-"

	labelManagedBy = "app.kubernetes.io/managed-by"
	labelComponent = "app.kubernetes.io/component"
	annotationKey  = "fordpass.autopeer.io/account"
)

// SecretStore keeps each record in its own Kubernetes Secret.
type SecretStore struct {
	client    kubernetes.Interface
	namespace string
}

var _ Store = (*SecretStore)(nil)

// NewSecretStore returns a store writing Secrets into namespace.
func NewSecretStore(client kubernetes.Interface, namespace string) *SecretStore {
	return &SecretStore{client: client, namespace: namespace}
}

// NewKubeClient builds a clientset from opts.KubeConfig, or from the
// in-cluster environment when it is empty.
func NewKubeClient(opts *options.KubeOptions) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if opts.KubeConfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", opts.KubeConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("loading kubernetes config: %w", err)
	}
	cfg.QPS = opts.QPS
	cfg.Burst = opts.Burst
	cfg.UserAgent = "fordpass-bridge"
	return kubernetes.NewForConfig(cfg)
}

// SecretName returns the Secret name used for key. Account names are not valid
// object names, so a digest of the key is used.
func SecretName(key Key) string {
	sum := sha256.Sum256([]byte(key.String()))
	return secretPrefix + hex.EncodeToString(sum[:])[:16]
}

func (s *SecretStore) Load(ctx context.Context, key Key) (*Record, error) {
	secret, err := s.client.CoreV1().Secrets(s.namespace).Get(ctx, SecretName(key), metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting token secret: %w", err)
	}
	data, ok := secret.Data[SecretDataKey]
	if !ok {
		return nil, fmt.Errorf("%w: secret %s has no %s entry", ErrCorrupt, secret.Name, SecretDataKey)
	}
	return decode(data)
}

func (s *SecretStore) Save(ctx context.Context, key Key, rec *Record) error {
	if rec == nil {
		return errors.New("nil credential record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}

	secrets := s.client.CoreV1().Secrets(s.namespace)
	name := SecretName(key)

	existing, err := secrets.Get(ctx, name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: s.namespace,
				Labels: map[string]string{
					labelManagedBy: "fordpass-bridge",
					labelComponent: "credential",
				},
				Annotations: map[string]string{annotationKey: key.String()},
			},
			Type: corev1.SecretTypeOpaque,
			Data: map[string][]byte{SecretDataKey: data},
		}
		if _, err := secrets.Create(ctx, secret, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("creating token secret: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("getting token secret: %w", err)
	}

	updated := existing.DeepCopy()
	if updated.Data == nil {
		updated.Data = map[string][]byte{}
	}
	updated.Data[SecretDataKey] = data
	if _, err := secrets.Update(ctx, updated, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("updating token secret: %w", err)
	}
	return nil
}

func (s *SecretStore) Delete(ctx context.Context, key Key) error {
	err := s.client.CoreV1().Secrets(s.namespace).Delete(ctx, SecretName(key), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting token secret: %w", err)
	}
	return nil
}
