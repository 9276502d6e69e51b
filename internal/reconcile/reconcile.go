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

// Package reconcile asks the Flux controllers to reconcile every object they
// own by stamping the reconcile request annotation.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	kerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/fluxified/fluxified/internal/flux"
)

// Reconciler annotates Flux objects across all namespaces.
type Reconciler struct {
	Core         kubernetes.Interface
	Dynamic      dynamic.Interface
	Clock        clock.PassiveClock
	FieldManager string
	Resources    []schema.GroupVersionResource
}

// NewReconciler returns a Reconciler for the resources served at the given versions.
func NewReconciler(core kubernetes.Interface, dyn dynamic.Interface, versions flux.Versions) *Reconciler {
	return &Reconciler{
		Core:         core,
		Dynamic:      dyn,
		Clock:        clock.RealClock{},
		FieldManager: flux.DefaultFieldManager,
		Resources:    flux.ReconcilableResources(versions),
	}
}

// Summary counts the objects touched by RequestAll.
type Summary struct {
	Annotated int
	Failed    int
}

// RequestAll patches the reconcile request annotation onto every instance of
// every configured resource in every namespace. Only a failure to list
// namespaces is returned; any other failure is logged and skipped.
func (r *Reconciler) RequestAll(ctx context.Context) (Summary, error) {
	log := ctrl.LoggerFrom(ctx)
	summary := Summary{}

	namespaces, err := r.Core.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return summary, fmt.Errorf("cannot list namespaces: %w", err)
	}

	errs := []error{}

	for _, gvr := range r.Resources {
		for _, ns := range namespaces.Items {
			annotated, failed := r.requestNamespace(ctx, gvr, ns.Name)
			summary.Annotated += annotated
			summary.Failed += len(failed)
			errs = append(errs, failed...)
		}
	}

	if agg := kerrors.NewAggregate(errs); agg != nil {
		log.Info("Reconcile requested with errors", "Annotated", summary.Annotated, "Failed", summary.Failed, "Errors", agg.Error())
	} else {
		log.Info("Reconcile requested", "Annotated", summary.Annotated)
	}

	return summary, nil
}

func (r *Reconciler) requestNamespace(ctx context.Context, gvr schema.GroupVersionResource, namespace string) (int, []error) {
	log := ctrl.LoggerFrom(ctx).WithValues("Resource", gvr.String(), "Namespace", namespace)
	client := r.Dynamic.Resource(gvr).Namespace(namespace)

	list, err := client.List(ctx, metav1.ListOptions{})
	if apierrors.IsNotFound(err) {
		log.V(5).Info("Resource not served in namespace")

		return 0, nil
	}

	if err != nil {
		log.Error(err, "Cannot list resources")

		return 0, []error{fmt.Errorf("list %s in %s: %w", gvr.Resource, namespace, err)}
	}

	annotated := 0
	errs := []error{}

	for _, item := range list.Items {
		patch, err := r.annotationPatch()
		if err != nil {
			return annotated, append(errs, err)
		}

		_, err = client.Patch(ctx, item.GetName(), types.MergePatchType, patch, metav1.PatchOptions{FieldManager: r.FieldManager})
		if err != nil {
			log.Error(err, "Cannot request reconcile", "Name", item.GetName())
			errs = append(errs, fmt.Errorf("patch %s %s/%s: %w", gvr.Resource, namespace, item.GetName(), err))

			continue
		}

		log.Info("Reconcile requested", "Name", item.GetName())

		annotated++
	}

	return annotated, errs
}

func (r *Reconciler) annotationPatch() ([]byte, error) {
	patch := map[string]interface{}{
		"metadata": map[string]interface{}{
			"annotations": map[string]string{
				flux.ReconcileRequestAnnotation: strconv.FormatInt(r.Clock.Now().Unix(), 10),
			},
		},
	}

	return json.Marshal(patch)
}
