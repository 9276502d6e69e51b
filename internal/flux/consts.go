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

// Package flux holds the Flux toolkit constants shared by the bootstrap and
// reconcile flows, together with CRD discovery and installation.
package flux

import (
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// DefaultNamespace is the namespace the Flux controllers and the deploy key secret live in.
	DefaultNamespace = "flux-system"

	// DefaultSecretName is the name of the secret holding the SSH identity and known hosts.
	DefaultSecretName = "flux-system-ssh"

	// DefaultDeployKeyTitle is the title of the deploy key registered on GitHub.
	DefaultDeployKeyTitle = "flux-deploy-key"

	// DefaultInstallURL points at the manifest bundle of the latest Flux release.
	DefaultInstallURL = "https://github.com/fluxcd/flux2/releases/latest/download/install.yaml"

	// ToolkitDomain is the API group suffix shared by all Flux custom resources.
	ToolkitDomain = "toolkit.fluxcd.io"

	// ReconcileRequestAnnotation asks a Flux controller to reconcile the object immediately.
	ReconcileRequestAnnotation = "reconcile.fluxcd.io/requestedAt"

	// DefaultFieldManager is recorded against reconcile annotation patches.
	DefaultFieldManager = "flux-client-side-apply"

	// KnownHostsHost is the host scanned for SSH host keys when no repository host is known.
	KnownHostsHost = "github.com"

	SourceGroup    = "source." + ToolkitDomain
	KustomizeGroup = "kustomize." + ToolkitDomain
	HelmGroup      = "helm." + ToolkitDomain

	DefaultSourceVersion    = "v1beta1"
	DefaultKustomizeVersion = "v1beta1"
	DefaultHelmVersion      = "v2beta1"
)

// pluralKinds maps the Flux kinds to their resource names.
var pluralKinds = map[string]string{
	"Kustomization":  "kustomizations",
	"GitRepository":  "gitrepositories",
	"HelmRelease":    "helmreleases",
	"HelmRepository": "helmrepositories",
	"Bucket":         "buckets",
}

// RequiredCRDs lists the CRDs that must be present before bootstrap manifests are applied.
var RequiredCRDs = []string{
	"buckets." + SourceGroup,
	"gitrepositories." + SourceGroup,
	"kustomizations." + KustomizeGroup,
	"helmrepositories." + SourceGroup,
	"helmreleases." + HelmGroup,
}

// Pluralize returns the resource name for a Flux kind. Unknown kinds are
// lowercased and suffixed with "s".
func Pluralize(kind string) string {
	if plural, ok := pluralKinds[kind]; ok {
		return plural
	}

	return strings.ToLower(kind) + "s"
}

// IsToolkitAPIVersion reports whether apiVersion belongs to a Flux API group.
func IsToolkitAPIVersion(apiVersion string) bool {
	return strings.Contains(apiVersion, ToolkitDomain)
}

// Versions selects the API version served for each Flux API group.
type Versions struct {
	Source    string
	Kustomize string
	Helm      string
}

// DefaultVersions returns the versions used when none are configured.
func DefaultVersions() Versions {
	return Versions{
		Source:    DefaultSourceVersion,
		Kustomize: DefaultKustomizeVersion,
		Helm:      DefaultHelmVersion,
	}
}

// ReconcilableResources returns the resources annotated by the reconcile flow.
func ReconcilableResources(v Versions) []schema.GroupVersionResource {
	return []schema.GroupVersionResource{
		{Group: SourceGroup, Version: v.Source, Resource: "gitrepositories"},
		{Group: SourceGroup, Version: v.Source, Resource: "helmrepositories"},
		{Group: SourceGroup, Version: v.Source, Resource: "buckets"},
		{Group: KustomizeGroup, Version: v.Kustomize, Resource: "kustomizations"},
		{Group: HelmGroup, Version: v.Helm, Resource: "helmreleases"},
	}
}
