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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/fluxified/fluxified/internal/flux"
)

func newBoundConfig(t *testing.T, args ...string) *Config {
	t.Helper()

	c := New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)

	for _, options := range [][]ConfigOption{GlobalOptions, BootstrapOptions, ReconcileOptions} {
		if err := c.BindFlags(fs, options); err != nil {
			t.Fatal(err)
		}
	}

	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}

	return c
}

func TestFlagNames(t *testing.T) {
	g := NewWithT(t)

	g.Expect(flag(KeyBootstrapSecretName)).To(Equal("secret-name"))
	g.Expect(flag(KeyBootstrapDeletionTimeout)).To(Equal("deletion-timeout"))
	g.Expect(flag(KeyReconcileFieldManager)).To(Equal("field-manager"))
	g.Expect(flag(KeyKubeconfigContext)).To(Equal("kubeconfig-context"))
}

func TestDefaults(t *testing.T) {
	g := NewWithT(t)

	c := newBoundConfig(t)

	g.Expect(c.Kubeconfig()).To(BeEmpty())
	g.Expect(c.BootstrapPath()).To(Equal("bootstrap"))
	g.Expect(c.BootstrapNamespace()).To(Equal(flux.DefaultNamespace))
	g.Expect(c.BootstrapSecretName()).To(Equal(flux.DefaultSecretName))
	g.Expect(c.BootstrapDeployKeyTitle()).To(Equal(flux.DefaultDeployKeyTitle))
	g.Expect(c.BootstrapCRDURL()).To(Equal(flux.DefaultInstallURL))
	g.Expect(c.BootstrapSubstitute()).To(BeFalse())
	g.Expect(c.BootstrapVariables()).To(BeEmpty())
	g.Expect(c.BootstrapDeletionTimeout()).To(Equal(30 * time.Second))
	g.Expect(c.BootstrapCRDTimeout()).To(Equal(time.Minute))
	g.Expect(c.BootstrapPatches()).To(BeEmpty())
	g.Expect(c.ReconcileVersions()).To(Equal(flux.DefaultVersions()))
	g.Expect(c.ReconcileFieldManager()).To(Equal(flux.DefaultFieldManager))
}

func TestFlagsOverride(t *testing.T) {
	g := NewWithT(t)

	c := newBoundConfig(t,
		"--kubeconfig", "/tmp/kubeconfig",
		"--kubeconfig-context", "kind-dev",
		"--path", "clusters/dev",
		"--substitute",
		"--var", "CLUSTER=dev",
		"--deletion-timeout", "0s",
		"--helm-version", "v2",
	)

	g.Expect(c.Kubeconfig()).To(Equal("/tmp/kubeconfig"))
	g.Expect(c.KubeconfigContext()).To(Equal("kind-dev"))
	g.Expect(c.BootstrapPath()).To(Equal("clusters/dev"))
	g.Expect(c.BootstrapSubstitute()).To(BeTrue())
	g.Expect(c.BootstrapVariables()).To(HaveKeyWithValue("CLUSTER", "dev"))
	g.Expect(c.BootstrapDeletionTimeout()).To(BeZero())
	g.Expect(c.ReconcileVersions().Helm).To(Equal("v2"))
	g.Expect(c.ReconcileVersions().Source).To(Equal(flux.DefaultSourceVersion))
}

func TestEnvironment(t *testing.T) {
	g := NewWithT(t)

	t.Setenv("GITHUB_TOKEN", "s3cr3t")
	t.Setenv("FLUXIFIED_BOOTSTRAP_NAMESPACE", "gitops")

	c := newBoundConfig(t)

	g.Expect(c.GitHubToken()).To(Equal("s3cr3t"))
	g.Expect(c.BootstrapNamespace()).To(Equal("gitops"))

	c = newBoundConfig(t, "--namespace", "flags-win")
	g.Expect(c.BootstrapNamespace()).To(Equal("flags-win"))
}

func TestReadFile(t *testing.T) {
	g := NewWithT(t)

	path := filepath.Join(t.TempDir(), "fluxified.yaml")
	content := []byte(`bootstrap:
  secret_name: custom-ssh
reconcile:
  source_version: v1
`)
	g.Expect(os.WriteFile(path, content, 0o600)).To(Succeed())

	c := newBoundConfig(t)
	g.Expect(c.ReadFile(path)).To(Succeed())

	g.Expect(c.BootstrapSecretName()).To(Equal("custom-ssh"))
	g.Expect(c.ReconcileVersions().Source).To(Equal("v1"))
	g.Expect(c.ReconcileVersions().Kustomize).To(Equal(flux.DefaultKustomizeVersion))
}

func TestReadFileMissing(t *testing.T) {
	g := NewWithT(t)

	c := newBoundConfig(t)
	g.Expect(c.ReadFile(filepath.Join(t.TempDir(), "missing.yaml"))).To(Succeed())
	g.Expect(c.BootstrapPath()).To(Equal("bootstrap"))
}

func TestBindFlagsUnsupportedType(t *testing.T) {
	g := NewWithT(t)

	c := New()
	err := c.BindFlags(pflag.NewFlagSet("test", pflag.ContinueOnError), []ConfigOption{
		{Key: "bootstrap.retries", Flag: "retries", Default: 3},
	})
	g.Expect(err).To(HaveOccurred())
}
