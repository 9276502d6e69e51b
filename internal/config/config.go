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

// Package config loads fluxified settings from flags, environment variables
// and an optional config file using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix FLUXIFIED_, plus GITHUB_TOKEN)
//  3. Config file (fluxified.yaml in . or $HOME/.config/fluxified/)
//  4. Compiled defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fluxified/fluxified/internal/flux"
)

const envPrefix = "FLUXIFIED"

// Keys shared by every command.
const (
	KeyKubeconfig        = "kubeconfig.path"
	KeyKubeconfigContext = "kubeconfig.context"
	KeyGitHubToken       = "github.token"
)

// Keys of the bootstrap command.
const (
	KeyBootstrapPath            = "bootstrap.path"
	KeyBootstrapNamespace       = "bootstrap.namespace"
	KeyBootstrapSecretName      = "bootstrap.secret_name"
	KeyBootstrapDeployKeyTitle  = "bootstrap.deploy_key_title"
	KeyBootstrapCRDURL          = "bootstrap.crd_url"
	KeyBootstrapGitHubURL       = "bootstrap.github_url"
	KeyBootstrapSubstitute      = "bootstrap.substitute"
	KeyBootstrapVariables       = "bootstrap.variables"
	KeyBootstrapPatches         = "bootstrap.patches"
	KeyBootstrapDeletionTimeout = "bootstrap.deletion_timeout"
	KeyBootstrapCRDTimeout      = "bootstrap.crd_timeout"
)

// Keys of the reconcile command.
const (
	KeyReconcileSourceVersion    = "reconcile.source_version"
	KeyReconcileKustomizeVersion = "reconcile.kustomize_version"
	KeyReconcileHelmVersion      = "reconcile.helm_version"
	KeyReconcileFieldManager     = "reconcile.field_manager"
)

// ConfigOption describes a single configuration entry: its viper key, the
// CLI flag it is bound to, the compiled default and the --help description.
type ConfigOption struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// GlobalOptions are shared by every command.
var GlobalOptions = []ConfigOption{
	{Key: KeyKubeconfig, Flag: "kubeconfig", Default: "", Description: "Path to the kubeconfig file to use for CLI requests"},
	{Key: KeyKubeconfigContext, Flag: flag(KeyKubeconfigContext), Default: "", Description: "Context to be used within the kubeconfig file. If empty, current context will be used"},
}

// BootstrapOptions are registered on the bootstrap command.
var BootstrapOptions = []ConfigOption{
	{Key: KeyBootstrapPath, Flag: flag(KeyBootstrapPath), Default: "bootstrap", Description: "Directory holding the bootstrap manifests"},
	{Key: KeyBootstrapNamespace, Flag: flag(KeyBootstrapNamespace), Default: flux.DefaultNamespace, Description: "Namespace of the Flux controllers and the deploy key secret"},
	{Key: KeyBootstrapSecretName, Flag: flag(KeyBootstrapSecretName), Default: flux.DefaultSecretName, Description: "Name of the secret holding the SSH identity"},
	{Key: KeyBootstrapDeployKeyTitle, Flag: flag(KeyBootstrapDeployKeyTitle), Default: flux.DefaultDeployKeyTitle, Description: "Title of the GitHub deploy key"},
	{Key: KeyBootstrapCRDURL, Flag: flag(KeyBootstrapCRDURL), Default: flux.DefaultInstallURL, Description: "URL of the Flux install bundle applied when CRDs are missing"},
	{Key: KeyBootstrapCRDTimeout, Flag: flag(KeyBootstrapCRDTimeout), Default: time.Minute, Description: "How long to wait for installed CRDs to be established, 0 to skip"},
	{Key: KeyBootstrapGitHubURL, Flag: flag(KeyBootstrapGitHubURL), Default: "", Description: "GitHub Enterprise API base URL"},
	{Key: KeyBootstrapSubstitute, Flag: flag(KeyBootstrapSubstitute), Default: false, Description: "Expand ${VAR} references in the bootstrap manifests"},
	{Key: KeyBootstrapVariables, Flag: "var", Default: map[string]string{}, Description: "Substitution variable as KEY=VALUE, takes precedence over the environment"},
	{Key: KeyBootstrapPatches, Flag: flag(KeyBootstrapPatches), Default: "", Description: "YAML file of patches applied to the bootstrap manifests before they are recreated"},
	{Key: KeyBootstrapDeletionTimeout, Flag: flag(KeyBootstrapDeletionTimeout), Default: 30 * time.Second, Description: "How long to wait for a deleted object to disappear before recreating it, 0 to skip"},
}

// ReconcileOptions are registered on the reconcile command.
var ReconcileOptions = []ConfigOption{
	{Key: KeyReconcileSourceVersion, Flag: flag(KeyReconcileSourceVersion), Default: flux.DefaultSourceVersion, Description: "API version of source.toolkit.fluxcd.io resources"},
	{Key: KeyReconcileKustomizeVersion, Flag: flag(KeyReconcileKustomizeVersion), Default: flux.DefaultKustomizeVersion, Description: "API version of kustomize.toolkit.fluxcd.io resources"},
	{Key: KeyReconcileHelmVersion, Flag: flag(KeyReconcileHelmVersion), Default: flux.DefaultHelmVersion, Description: "API version of helm.toolkit.fluxcd.io resources"},
	{Key: KeyReconcileFieldManager, Flag: flag(KeyReconcileFieldManager), Default: flux.DefaultFieldManager, Description: "Field manager recorded on reconcile patches"},
}

// flag converts a key like "bootstrap.secret_name" into "secret-name".
func flag(key string) string {
	f := strings.ToLower(key)
	f = strings.ReplaceAll(f, ".", "-")
	f = strings.ReplaceAll(f, "_", "-")
	f = strings.TrimPrefix(f, "bootstrap-")
	f = strings.TrimPrefix(f, "reconcile-")

	return f
}

// Config resolves fluxified settings through a dedicated viper instance.
type Config struct {
	v *viper.Viper
}

// New returns a Config holding the compiled defaults and reading the environment.
func New() *Config {
	v := viper.New()

	for _, options := range [][]ConfigOption{GlobalOptions, BootstrapOptions, ReconcileOptions} {
		for _, o := range options {
			v.SetDefault(o.Key, o.Default)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// the token keeps the name GitHub tooling already uses
	_ = v.BindEnv(KeyGitHubToken, "GITHUB_TOKEN", envPrefix+"_GITHUB_TOKEN")

	return &Config{v: v}
}

// ReadFile loads fluxified.yaml from the working directory or the user config
// directory. A missing file is not an error.
func (c *Config) ReadFile(path string) error {
	if path != "" {
		c.v.SetConfigFile(path)
	} else {
		c.v.SetConfigName("fluxified")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			c.v.AddConfigPath(filepath.Join(home, ".config", "fluxified"))
		}
	}

	if err := c.v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFoundErr) || errors.Is(err, os.ErrNotExist)) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return nil
}

// BindFlags registers a flag for every option on fs and binds it to its key.
func (c *Config) BindFlags(fs *pflag.FlagSet, options []ConfigOption) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case time.Duration:
			fs.Duration(o.Flag, v, o.Description)
		case map[string]string:
			fs.StringToString(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}

	return nil
}

// Kubeconfig returns the explicit kubeconfig path, empty for the default loading rules.
func (c *Config) Kubeconfig() string {
	return c.v.GetString(KeyKubeconfig) // FLUXIFIED_KUBECONFIG_PATH
}

// KubeconfigContext returns the kubeconfig context, empty for the current one.
func (c *Config) KubeconfigContext() string {
	return c.v.GetString(KeyKubeconfigContext) // FLUXIFIED_KUBECONFIG_CONTEXT
}

// GitHubToken returns the token used against the GitHub API.
func (c *Config) GitHubToken() string {
	return c.v.GetString(KeyGitHubToken) // GITHUB_TOKEN
}

// BootstrapPath returns the directory holding the bootstrap manifests.
func (c *Config) BootstrapPath() string {
	return c.v.GetString(KeyBootstrapPath) // FLUXIFIED_BOOTSTRAP_PATH
}

// BootstrapNamespace returns the namespace of the Flux controllers.
func (c *Config) BootstrapNamespace() string {
	return c.v.GetString(KeyBootstrapNamespace) // FLUXIFIED_BOOTSTRAP_NAMESPACE
}

// BootstrapSecretName returns the name of the deploy key secret.
func (c *Config) BootstrapSecretName() string {
	return c.v.GetString(KeyBootstrapSecretName) // FLUXIFIED_BOOTSTRAP_SECRET_NAME
}

// BootstrapDeployKeyTitle returns the title of the GitHub deploy key.
func (c *Config) BootstrapDeployKeyTitle() string {
	return c.v.GetString(KeyBootstrapDeployKeyTitle) // FLUXIFIED_BOOTSTRAP_DEPLOY_KEY_TITLE
}

// BootstrapCRDURL returns the URL of the Flux install bundle.
func (c *Config) BootstrapCRDURL() string {
	return c.v.GetString(KeyBootstrapCRDURL) // FLUXIFIED_BOOTSTRAP_CRD_URL
}

// BootstrapCRDTimeout returns how long to wait for CRDs to be established.
func (c *Config) BootstrapCRDTimeout() time.Duration {
	return c.v.GetDuration(KeyBootstrapCRDTimeout) // FLUXIFIED_BOOTSTRAP_CRD_TIMEOUT
}

// BootstrapGitHubURL returns the GitHub Enterprise API base URL, empty for github.com.
func (c *Config) BootstrapGitHubURL() string {
	return c.v.GetString(KeyBootstrapGitHubURL) // FLUXIFIED_BOOTSTRAP_GITHUB_URL
}

// BootstrapSubstitute reports whether ${VAR} expansion is enabled.
func (c *Config) BootstrapSubstitute() bool {
	return c.v.GetBool(KeyBootstrapSubstitute) // FLUXIFIED_BOOTSTRAP_SUBSTITUTE
}

// BootstrapVariables returns the substitution variables set with --var or the config file.
func (c *Config) BootstrapVariables() map[string]string {
	return c.v.GetStringMapString(KeyBootstrapVariables)
}

// BootstrapPatches returns the path of the manifest patch file, if any.
func (c *Config) BootstrapPatches() string {
	return c.v.GetString(KeyBootstrapPatches) // FLUXIFIED_BOOTSTRAP_PATCHES
}

// BootstrapDeletionTimeout returns how long to wait for a deleted object to disappear.
func (c *Config) BootstrapDeletionTimeout() time.Duration {
	return c.v.GetDuration(KeyBootstrapDeletionTimeout) // FLUXIFIED_BOOTSTRAP_DELETION_TIMEOUT
}

// ReconcileVersions returns the Flux API versions targeted by reconcile.
func (c *Config) ReconcileVersions() flux.Versions {
	return flux.Versions{
		Source:    c.v.GetString(KeyReconcileSourceVersion),    // FLUXIFIED_RECONCILE_SOURCE_VERSION
		Kustomize: c.v.GetString(KeyReconcileKustomizeVersion), // FLUXIFIED_RECONCILE_KUSTOMIZE_VERSION
		Helm:      c.v.GetString(KeyReconcileHelmVersion),      // FLUXIFIED_RECONCILE_HELM_VERSION
	}
}

// ReconcileFieldManager returns the field manager recorded on reconcile patches.
func (c *Config) ReconcileFieldManager() string {
	return c.v.GetString(KeyReconcileFieldManager) // FLUXIFIED_RECONCILE_FIELD_MANAGER
}
