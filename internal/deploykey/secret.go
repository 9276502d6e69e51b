/*
Copyright 2024 The Fluxified Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package deploykey

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"
)

const (
	// IdentityKey holds the private key in the deploy key secret.
	IdentityKey = "identity"
	// KnownHostsKey holds the host keys in the deploy key secret.
	KnownHostsKey = "known_hosts"
)

// SecretExists reports whether the deploy key secret is present.
func SecretExists(ctx context.Context, client kubernetes.Interface, namespace, name string) (bool, error) {
	_, err := client.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		ctrl.LoggerFrom(ctx).Info("Kubernetes secret already exists", "Name", name, "Namespace", namespace)

		return true, nil
	}

	if apierrors.IsNotFound(err) {
		return false, nil
	}

	return false, fmt.Errorf("cannot get secret %s/%s: %w", namespace, name, err)
}

// CreateSecret stores the private key and known hosts in an opaque secret.
// An existing secret is never updated.
func CreateSecret(ctx context.Context, client kubernetes.Interface, namespace, name, privateKey, knownHosts string) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			IdentityKey:   []byte(privateKey),
			KnownHostsKey: []byte(knownHosts),
		},
	}

	if _, err := client.CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("cannot create secret %s/%s: %w", namespace, name, err)
	}

	ctrl.LoggerFrom(ctx).Info("Kubernetes secret created", "Name", name, "Namespace", namespace)

	return nil
}
