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

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fluxified/fluxified/internal/config"
	"github.com/fluxified/fluxified/internal/kube"
	"github.com/fluxified/fluxified/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:     "reconcile",
	GroupID: groupManagement,
	Short:   "Ask Flux to reconcile every source, kustomization and Helm release",
	Long: LongDesc(`
		Ask the Flux controllers to reconcile all of their objects now.

		Every GitRepository, HelmRepository, Bucket, Kustomization and HelmRelease in
		every namespace is annotated with reconcile.fluxcd.io/requestedAt set to the
		current Unix time. Objects that cannot be listed or patched are logged and
		skipped.`),

	Example: Examples(`
		# Reconcile everything managed by Flux.
		fluxified reconcile

		# Target clusters serving newer Flux APIs.
		fluxified reconcile --source-version v1 --kustomize-version v1 --helm-version v2`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return wrapStack(runReconcile(cmd.Context()))
	},
}

func init() {
	cobra.CheckErr(cfg.BindFlags(reconcileCmd.Flags(), config.ReconcileOptions))

	RootCmd.AddCommand(reconcileCmd)
}

func runReconcile(ctx context.Context) error {
	clients, err := kube.CreateKubeClients(ctx, cfg.Kubeconfig(), cfg.KubeconfigContext())
	if err != nil {
		return err
	}

	r := reconcile.NewReconciler(clients.Core, clients.Dynamic, cfg.ReconcileVersions())
	r.FieldManager = cfg.ReconcileFieldManager()

	_, err = r.RequestAll(ctx)

	return err
}
