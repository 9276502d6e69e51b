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
	"errors"
	"fmt"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	kerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/fluxified/fluxified/internal/flux"
)

const defaultPollInterval = time.Second

// ErrUnsupportedKind is returned for documents that are neither Flux custom
// resources nor one of the known core kinds.
var ErrUnsupportedKind = errors.New("unsupported resource kind")

// Applier recreates manifest documents in the cluster.
type Applier struct {
	dynamic          dynamic.Interface
	defaultNamespace string
	deletionTimeout  time.Duration
	pollInterval     time.Duration
	kinds            map[string]objectOps
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithDeletionTimeout bounds the wait for a deleted object to disappear.
// Zero disables the wait.
func WithDeletionTimeout(timeout time.Duration) ApplierOption {
	return func(a *Applier) {
		a.deletionTimeout = timeout
	}
}

// WithPollInterval sets how often a deleted object is checked for.
func WithPollInterval(interval time.Duration) ApplierOption {
	return func(a *Applier) {
		a.pollInterval = interval
	}
}

// NewApplier returns an Applier placing namespace-less documents in defaultNamespace.
func NewApplier(core kubernetes.Interface, dyn dynamic.Interface, defaultNamespace string, opts ...ApplierOption) *Applier {
	a := &Applier{
		dynamic:          dyn,
		defaultNamespace: defaultNamespace,
		pollInterval:     defaultPollInterval,
		kinds:            coreKinds(core),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// ApplyResult counts the outcome of ApplyAll.
type ApplyResult struct {
	Applied int
	Failed  int
}

// ApplyAll recreates every document in order. A failing document is logged and
// does not stop the remaining ones.
func (a *Applier) ApplyAll(ctx context.Context, documents []Document) ApplyResult {
	log := ctrl.LoggerFrom(ctx)

	result := ApplyResult{}
	errs := []error{}

	for _, doc := range documents {
		if err := a.Apply(ctx, doc.Object); err != nil {
			log.Error(err, "Failed to apply manifest", "Path", doc.Path,
				"Kind", doc.Object.GetKind(), "Name", doc.Object.GetName())

			errs = append(errs, fmt.Errorf("%s: %w", doc.Path, err))
			result.Failed++

			continue
		}

		result.Applied++
	}

	if agg := kerrors.NewAggregate(errs); agg != nil {
		log.Info("Some manifests were not applied", "Applied", result.Applied, "Failed", result.Failed, "Errors", agg.Error())
	} else {
		log.Info("Bootstrap manifests applied", "Applied", result.Applied)
	}

	return result
}

// Apply deletes the object described by obj if it exists, waits for it to be
// gone and creates it again.
func (a *Applier) Apply(ctx context.Context, obj *unstructured.Unstructured) error {
	if obj.GetNamespace() == "" {
		obj.SetNamespace(a.defaultNamespace)
	}

	ops, err := a.opsFor(obj)
	if err != nil {
		return err
	}

	return a.recreate(ctx, ops, obj)
}

func (a *Applier) opsFor(obj *unstructured.Unstructured) (objectOps, error) {
	if flux.IsToolkitAPIVersion(obj.GetAPIVersion()) {
		gv, err := schema.ParseGroupVersion(obj.GetAPIVersion())
		if err != nil {
			return objectOps{}, fmt.Errorf("invalid apiVersion %q: %w", obj.GetAPIVersion(), err)
		}

		return dynamicOps(a.dynamic, gv.WithResource(flux.Pluralize(obj.GetKind()))), nil
	}

	ops, ok := a.kinds[strings.ToLower(obj.GetKind())]
	if !ok {
		return objectOps{}, fmt.Errorf("%w %q", ErrUnsupportedKind, obj.GetKind())
	}

	return ops, nil
}

func (a *Applier) recreate(ctx context.Context, ops objectOps, obj *unstructured.Unstructured) error {
	log := ctrl.LoggerFrom(ctx).WithValues("Kind", obj.GetKind(), "Name", obj.GetName(), "Namespace", obj.GetNamespace())
	namespace, name := obj.GetNamespace(), obj.GetName()

	err := ops.get(ctx, namespace, name)

	switch {
	case err == nil:
		if err := a.delete(ctx, ops, namespace, name); err != nil {
			return err
		}
	case apierrors.IsNotFound(err):
		log.V(5).Info("Object does not exist yet")
	default:
		log.Error(err, "Cannot check for existing object")
	}

	if err := ops.create(ctx, namespace, obj); err != nil {
		return fmt.Errorf("cannot create %s %s/%s: %w", obj.GetKind(), namespace, name, err)
	}

	log.Info("Object created")

	return nil
}

func (a *Applier) delete(ctx context.Context, ops objectOps, namespace, name string) error {
	log := ctrl.LoggerFrom(ctx)

	err := ops.delete(ctx, namespace, name)
	if apierrors.IsNotFound(err) {
		log.V(5).Info("Object already gone", "Name", name, "Namespace", namespace)

		return nil
	}

	if err != nil {
		log.Error(err, "Cannot delete existing object", "Name", name, "Namespace", namespace)

		return nil
	}

	log.Info("Existing object deleted", "Name", name, "Namespace", namespace)

	if a.deletionTimeout <= 0 {
		return nil
	}

	err = wait.PollUntilContextTimeout(ctx, a.pollInterval, a.deletionTimeout, true, func(ctx context.Context) (bool, error) {
		err := ops.get(ctx, namespace, name)

		return apierrors.IsNotFound(err), ctrlclient.IgnoreNotFound(err)
	})
	if err != nil {
		return fmt.Errorf("object %s/%s still present after deletion: %w", namespace, name, err)
	}

	return nil
}

func dynamicOps(client dynamic.Interface, gvr schema.GroupVersionResource) objectOps {
	return objectOps{
		get: func(ctx context.Context, namespace, name string) error {
			_, err := client.Resource(gvr).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})

			return err
		},
		create: func(ctx context.Context, namespace string, obj *unstructured.Unstructured) error {
			_, err := client.Resource(gvr).Namespace(namespace).Create(ctx, obj, metav1.CreateOptions{})

			return err
		},
		delete: func(ctx context.Context, namespace, name string) error {
			return client.Resource(gvr).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{})
		},
	}
}
