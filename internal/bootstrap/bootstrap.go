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

// Package bootstrap installs Flux on a cluster and wires it to a GitHub
// repository through an SSH deploy key.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/fluxified/fluxified/internal/deploykey"
	"github.com/fluxified/fluxified/internal/flux"
	"github.com/fluxified/fluxified/internal/kube"
	"github.com/fluxified/fluxified/internal/manifests"
	"github.com/fluxified/fluxified/internal/patch"
)

const crdPollInterval = 2 * time.Second

// DeployKeys looks up and registers deploy keys on the source repository.
type DeployKeys interface {
	HasDeployKey(ctx context.Context, title string) (bool, error)
	AddDeployKey(ctx context.Context, title, publicKey string) error
}

// KeyGenerator produces a fresh SSH key pair.
type KeyGenerator interface {
	Generate(ctx context.Context) (*deploykey.KeyPair, error)
}

// HostKeyScanner returns known_hosts lines for a host.
type HostKeyScanner interface {
	Scan(ctx context.Context, host string) (string, error)
}

// CRDInstaller applies the Flux install bundle.
type CRDInstaller interface {
	Install(ctx context.Context, url string) error
}

// ManifestApplier recreates bootstrap documents in the cluster.
type ManifestApplier interface {
	ApplyAll(ctx context.Context, documents []manifests.Document) manifests.ApplyResult
}

// Options holds the names and locations used by a bootstrap run.
type Options struct {
	Path           string
	Namespace      string
	SecretName     string
	DeployKeyTitle string
	CRDURL         string
	KnownHostsHost string
	Load           manifests.LoadOptions
	Patches        []patch.Patch

	// CRDTimeout bounds the wait for installed CRDs to be established. Zero skips it.
	CRDTimeout time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Path:           "bootstrap",
		Namespace:      flux.DefaultNamespace,
		SecretName:     flux.DefaultSecretName,
		DeployKeyTitle: flux.DefaultDeployKeyTitle,
		CRDURL:         flux.DefaultInstallURL,
		KnownHostsHost: flux.KnownHostsHost,
		CRDTimeout:     time.Minute,
	}
}

// Bootstrapper runs the bootstrap flow against one cluster and one repository.
type Bootstrapper struct {
	Options Options

	Core          kubernetes.Interface
	APIExtensions clientset.Interface

	DeployKeys DeployKeys
	Keys       KeyGenerator
	HostKeys   HostKeyScanner
	CRDs       CRDInstaller
	Applier    ManifestApplier
}

// New wires a Bootstrapper with the real key tooling and manifest applier.
func New(opts Options, clients *kube.Clients, deployKeys DeployKeys, kubeconfig, kubeconfigContext string, applierOpts ...manifests.ApplierOption) *Bootstrapper {
	return &Bootstrapper{
		Options:       opts,
		Core:          clients.Core,
		APIExtensions: clients.APIExtensions,
		DeployKeys:    deployKeys,
		Keys:          deploykey.NewKeyGenerator(),
		HostKeys:      deploykey.NewHostKeyScanner(),
		CRDs:          flux.NewCRDInstaller(kubeconfig, kubeconfigContext),
		Applier:       manifests.NewApplier(clients.Core, clients.Dynamic, opts.Namespace, applierOpts...),
	}
}

// Run loads and patches the bootstrap manifests, installs missing CRDs, makes
// sure the deploy key exists on both the repository and the cluster, and
// recreates the manifests.
func (b *Bootstrapper) Run(ctx context.Context) error {
	log := ctrl.LoggerFrom(ctx)

	documents, err := manifests.Load(ctx, b.Options.Path, b.Options.Load)
	if err != nil {
		return err
	}

	if len(b.Options.Patches) > 0 {
		objs := make([]*unstructured.Unstructured, 0, len(documents))
		for _, doc := range documents {
			objs = append(objs, doc.Object)
		}

		if err := patch.Apply(objs, b.Options.Patches); err != nil {
			return fmt.Errorf("cannot patch bootstrap manifests: %w", err)
		}
	}

	if err := b.ensureCRDs(ctx); err != nil {
		return err
	}

	if err := b.ensureDeployKey(ctx); err != nil {
		return err
	}

	result := b.Applier.ApplyAll(ctx, documents)
	log.Info("Bootstrap finished", "Applied", result.Applied, "Failed", result.Failed)

	return nil
}

func (b *Bootstrapper) ensureCRDs(ctx context.Context) error {
	log := ctrl.LoggerFrom(ctx)

	missing, err := flux.MissingCRDs(ctx, b.APIExtensions)
	if err != nil {
		log.Error(err, "Cannot check Flux CRDs, installing them")
	} else if len(missing) == 0 {
		log.Info("All Flux CRDs are installed")

		return nil
	} else {
		log.Info("Missing Flux CRDs", "CRDs", missing)
	}

	if err := b.CRDs.Install(ctx, b.Options.CRDURL); err != nil {
		return fmt.Errorf("failed to install Flux CRDs: %w", err)
	}

	if b.Options.CRDTimeout <= 0 {
		return nil
	}

	return flux.WaitForEstablished(ctx, b.APIExtensions, flux.RequiredCRDs, crdPollInterval, b.Options.CRDTimeout)
}

func (b *Bootstrapper) ensureDeployKey(ctx context.Context) error {
	log := ctrl.LoggerFrom(ctx)
	opts := b.Options

	keyExists, err := b.DeployKeys.HasDeployKey(ctx, opts.DeployKeyTitle)
	if err != nil {
		return err
	}

	if err := kube.EnsureNamespaceExists(ctx, b.Core, opts.Namespace); err != nil {
		return err
	}

	secretExists, err := deploykey.SecretExists(ctx, b.Core, opts.Namespace, opts.SecretName)
	if err != nil {
		return err
	}

	if keyExists && secretExists {
		return nil
	}

	keyPair, err := b.Keys.Generate(ctx)
	if err != nil {
		return fmt.Errorf("failed to generate SSH key pair: %w", err)
	}

	defer func() {
		if cleanupErr := keyPair.Cleanup(); cleanupErr != nil {
			log.Error(cleanupErr, "Cannot remove key directory", "Dir", keyPair.Dir)
		}
	}()

	log.Info("SSH key pair generated", "Fingerprint", keyPair.Fingerprint)

	knownHosts, err := b.HostKeys.Scan(ctx, opts.KnownHostsHost)
	if err != nil {
		return fmt.Errorf("failed to retrieve known hosts, aborting secret creation: %w", err)
	}

	if !keyExists {
		if err := b.DeployKeys.AddDeployKey(ctx, opts.DeployKeyTitle, keyPair.PublicKey); err != nil {
			return err
		}
	}

	if !secretExists {
		if err := deploykey.CreateSecret(ctx, b.Core, opts.Namespace, opts.SecretName, keyPair.PrivateKey, knownHosts); err != nil {
			return err
		}
	}

	return nil
}
