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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/fluxified/fluxified/internal/bootstrap"
	"github.com/fluxified/fluxified/internal/config"
	"github.com/fluxified/fluxified/internal/deploykey"
	"github.com/fluxified/fluxified/internal/kube"
	"github.com/fluxified/fluxified/internal/manifests"
	"github.com/fluxified/fluxified/internal/patch"
	"github.com/fluxified/fluxified/util"
)

var errMissingToken = errors.New("GitHub token not found, please set the GITHUB_TOKEN environment variable")

var bootstrapCmd = &cobra.Command{
	Use:     "bootstrap",
	GroupID: groupManagement,
	Short:   "Install Flux and connect it to the current GitHub repository",
	Long: LongDesc(`
		Install Flux and connect it to the GitHub repository of the current directory.

		The repository is resolved from the "origin" remote. When any Flux CRD is
		missing the upstream install bundle is applied with kubectl. A read-only SSH
		deploy key is registered on the repository and stored in the cluster unless
		both already exist. Finally every manifest found under the bootstrap
		directory is deleted and created again.

		A GitHub token with admin rights on the repository must be provided through
		the GITHUB_TOKEN environment variable.`),

	Example: Examples(`
		# Bootstrap the cluster of the current kubeconfig context.
		GITHUB_TOKEN=<token> fluxified bootstrap

		# Bootstrap from a different manifest directory and namespace.
		fluxified bootstrap --path clusters/dev --namespace gitops

		# Expand ${CLUSTER} references in the manifests before applying them.
		fluxified bootstrap --substitute --var CLUSTER=dev

		# Customize the bootstrap manifests with a file of patches.
		fluxified bootstrap --patches patches.yaml

		# Use a GitHub Enterprise installation.
		fluxified bootstrap --github-url https://github.example.com/api/v3/`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}

		return wrapStack(runBootstrap(cmd.Context(), dir))
	},
}

func init() {
	cobra.CheckErr(cfg.BindFlags(bootstrapCmd.Flags(), config.BootstrapOptions))

	RootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(ctx context.Context, dir string) error {
	log := ctrl.LoggerFrom(ctx)

	token := cfg.GitHubToken()
	if token == "" {
		return errMissingToken
	}

	remote, err := util.OriginURL(dir)
	if err != nil {
		return err
	}

	repository, err := util.ParseRemoteURL(remote)
	if err != nil {
		return fmt.Errorf("GitHub repository URL not found or unsupported format: %w", err)
	}

	log.Info("Using GitHub repository", "Repository", repository.FullName(), "Host", repository.Host)

	clients, err := kube.CreateKubeClients(ctx, cfg.Kubeconfig(), cfg.KubeconfigContext())
	if err != nil {
		return err
	}

	githubClient, err := deploykey.NewGitHubClient(ctx, token, cfg.BootstrapGitHubURL())
	if err != nil {
		return err
	}

	deployKeys, err := deploykey.LookupRepository(ctx, githubClient, repository.FullName())
	if err != nil {
		return err
	}

	opts := bootstrapOptions(repository)

	if path := cfg.BootstrapPatches(); path != "" {
		if opts.Patches, err = patch.LoadFile(path); err != nil {
			return err
		}
	}

	b := bootstrap.New(opts, clients, deployKeys, cfg.Kubeconfig(), cfg.KubeconfigContext(),
		manifests.WithDeletionTimeout(cfg.BootstrapDeletionTimeout()))

	return b.Run(ctx)
}

// bootstrapOptions builds the run options from the configuration. Host keys are
// scanned on the host serving the repository.
func bootstrapOptions(repository util.Remote) bootstrap.Options {
	return bootstrap.Options{
		Path:           cfg.BootstrapPath(),
		Namespace:      cfg.BootstrapNamespace(),
		SecretName:     cfg.BootstrapSecretName(),
		DeployKeyTitle: cfg.BootstrapDeployKeyTitle(),
		CRDURL:         cfg.BootstrapCRDURL(),
		KnownHostsHost: repository.Host,
		CRDTimeout:     cfg.BootstrapCRDTimeout(),
		Load: manifests.LoadOptions{
			Substitute: cfg.BootstrapSubstitute(),
			Variables:  cfg.BootstrapVariables(),
		},
	}
}
