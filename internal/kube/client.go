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

// Package kube builds the Kubernetes API handles used by fluxified.
package kube

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
)

// Clients bundles the API handles shared by the bootstrap and reconcile flows.
// They are stateless and need no release.
type Clients struct {
	// Core serves built-in resources such as namespaces and secrets.
	Core kubernetes.Interface
	// Dynamic serves Flux custom objects.
	Dynamic dynamic.Interface
	// APIExtensions serves custom resource definitions.
	APIExtensions apiextensionsclientset.Interface
}

// LoadConfig loads the rest config from kubeconfigPath, or from the default
// locations when the path is empty.
func LoadConfig(kubeconfigPath, kubeconfigContext string) (*rest.Config, error) {
	loader := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		loader.ExplicitPath = kubeconfigPath
	}

	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loader,
		&clientcmd.ConfigOverrides{
			CurrentContext: kubeconfigContext,
		}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading client config: %w", err)
	}

	return config, nil
}

// NewClients creates the core, dynamic and apiextensions clients for config.
func NewClients(config *rest.Config) (*Clients, error) {
	core, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("error creating core client: %w", err)
	}

	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("error creating dynamic client: %w", err)
	}

	apiext, err := apiextensionsclientset.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("error creating apiextensions client: %w", err)
	}

	return &Clients{
		Core:          core,
		Dynamic:       dyn,
		APIExtensions: apiext,
	}, nil
}

// CreateKubeClients loads the kubeconfig and builds the client bundle in one step.
func CreateKubeClients(ctx context.Context, kubeconfigPath, kubeconfigContext string) (*Clients, error) {
	config, err := LoadConfig(kubeconfigPath, kubeconfigContext)
	if err != nil {
		return nil, err
	}

	clients, err := NewClients(config)
	if err != nil {
		return nil, err
	}

	ctrl.LoggerFrom(ctx).Info("Kubernetes configuration loaded successfully", "Host", config.Host)

	return clients, nil
}

// EnsureNamespaceExists creates namespace unless it is already present.
func EnsureNamespaceExists(ctx context.Context, client kubernetes.Interface, namespace string) error {
	log := ctrl.LoggerFrom(ctx)

	_, err := client.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err == nil {
		log.Info("Namespace already exists", "Namespace", namespace)

		return nil
	}

	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("unexpected error during namespace checking: %w", err)
	}

	newNamespace := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: namespace,
		},
	}

	if _, err := client.CoreV1().Namespaces().Create(ctx, newNamespace, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("unable to create namespace %s: %w", namespace, err)
	}

	log.Info("Namespace created", "Namespace", namespace)

	return nil
}
