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

package manifests

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
)

// objectOps reads, creates and deletes one namespaced object kind.
type objectOps struct {
	get    func(ctx context.Context, namespace, name string) error
	create func(ctx context.Context, namespace string, obj *unstructured.Unstructured) error
	delete func(ctx context.Context, namespace, name string) error
}

// namespacedClient is the subset of a typed client-go interface used to recreate objects.
type namespacedClient[T runtime.Object] interface {
	Get(ctx context.Context, name string, opts metav1.GetOptions) (T, error)
	Create(ctx context.Context, obj T, opts metav1.CreateOptions) (T, error)
	Delete(ctx context.Context, name string, opts metav1.DeleteOptions) error
}

func typedOps[T any, PT interface {
	*T
	runtime.Object
}](clientFor func(namespace string) namespacedClient[PT]) objectOps {
	return objectOps{
		get: func(ctx context.Context, namespace, name string) error {
			_, err := clientFor(namespace).Get(ctx, name, metav1.GetOptions{})

			return err
		},
		create: func(ctx context.Context, namespace string, u *unstructured.Unstructured) error {
			obj := PT(new(T))
			if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.UnstructuredContent(), obj); err != nil {
				return fmt.Errorf("cannot convert %s: %w", u.GetKind(), err)
			}

			_, err := clientFor(namespace).Create(ctx, obj, metav1.CreateOptions{})

			return err
		},
		delete: func(ctx context.Context, namespace, name string) error {
			return clientFor(namespace).Delete(ctx, name, metav1.DeleteOptions{})
		},
	}
}

// coreKinds maps lowercased core/v1 kinds to their typed operations. Cluster
// scoped kinds such as Namespace are deliberately absent.
func coreKinds(client kubernetes.Interface) map[string]objectOps {
	core := client.CoreV1()

	return map[string]objectOps{
		"configmap": typedOps[corev1.ConfigMap](func(ns string) namespacedClient[*corev1.ConfigMap] {
			return core.ConfigMaps(ns)
		}),
		"secret": typedOps[corev1.Secret](func(ns string) namespacedClient[*corev1.Secret] {
			return core.Secrets(ns)
		}),
		"service": typedOps[corev1.Service](func(ns string) namespacedClient[*corev1.Service] {
			return core.Services(ns)
		}),
		"serviceaccount": typedOps[corev1.ServiceAccount](func(ns string) namespacedClient[*corev1.ServiceAccount] {
			return core.ServiceAccounts(ns)
		}),
		"pod": typedOps[corev1.Pod](func(ns string) namespacedClient[*corev1.Pod] {
			return core.Pods(ns)
		}),
		"persistentvolumeclaim": typedOps[corev1.PersistentVolumeClaim](func(ns string) namespacedClient[*corev1.PersistentVolumeClaim] {
			return core.PersistentVolumeClaims(ns)
		}),
		"endpoints": typedOps[corev1.Endpoints](func(ns string) namespacedClient[*corev1.Endpoints] {
			return core.Endpoints(ns)
		}),
		"limitrange": typedOps[corev1.LimitRange](func(ns string) namespacedClient[*corev1.LimitRange] {
			return core.LimitRanges(ns)
		}),
		"resourcequota": typedOps[corev1.ResourceQuota](func(ns string) namespacedClient[*corev1.ResourceQuota] {
			return core.ResourceQuotas(ns)
		}),
		"replicationcontroller": typedOps[corev1.ReplicationController](func(ns string) namespacedClient[*corev1.ReplicationController] {
			return core.ReplicationControllers(ns)
		}),
		"podtemplate": typedOps[corev1.PodTemplate](func(ns string) namespacedClient[*corev1.PodTemplate] {
			return core.PodTemplates(ns)
		}),
		"event": typedOps[corev1.Event](func(ns string) namespacedClient[*corev1.Event] {
			return core.Events(ns)
		}),
	}
}
