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

package flux

import (
	"context"
	"fmt"
	"strings"
	"time"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
	utilexec "k8s.io/utils/exec"
	ctrl "sigs.k8s.io/controller-runtime"
)

const kubectlBinary = "kubectl"

// MissingCRDs returns the entries of RequiredCRDs that are not installed in the cluster.
func MissingCRDs(ctx context.Context, client apiextensionsclientset.Interface) ([]string, error) {
	crds, err := client.ApiextensionsV1().CustomResourceDefinitions().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("cannot list custom resource definitions: %w", err)
	}

	installed := sets.New[string]()
	for i := range crds.Items {
		installed.Insert(crds.Items[i].Name)
	}

	missing := []string{}

	for _, name := range RequiredCRDs {
		if !installed.Has(name) {
			missing = append(missing, name)
		}
	}

	return missing, nil
}

// WaitForEstablished polls until every CRD in names reports the Established
// condition, or timeout expires.
func WaitForEstablished(ctx context.Context, client apiextensionsclientset.Interface, names []string, interval, timeout time.Duration) error {
	log := ctrl.LoggerFrom(ctx)
	pending := sets.New(names...)

	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		for _, name := range sets.List(pending) {
			crd, err := client.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, name, metav1.GetOptions{})
			if err != nil || !isEstablished(crd) {
				continue
			}

			log.V(5).Info("CRD established", "Name", name)
			pending.Delete(name)
		}

		return pending.Len() == 0, nil
	})
	if err != nil {
		return fmt.Errorf("CRDs not established: %s: %w", strings.Join(sets.List(pending), ", "), err)
	}

	return nil
}

func isEstablished(crd *apiextensionsv1.CustomResourceDefinition) bool {
	for _, cond := range crd.Status.Conditions {
		if cond.Type == apiextensionsv1.Established && cond.Status == apiextensionsv1.ConditionTrue {
			return true
		}
	}

	return false
}

// CRDInstaller applies the Flux install bundle with kubectl.
type CRDInstaller struct {
	Exec              utilexec.Interface
	Kubectl           string
	Kubeconfig        string
	KubeconfigContext string
}

// NewCRDInstaller returns an installer that shells out to kubectl on the host.
func NewCRDInstaller(kubeconfig, kubeconfigContext string) *CRDInstaller {
	return &CRDInstaller{
		Exec:              utilexec.New(),
		Kubectl:           kubectlBinary,
		Kubeconfig:        kubeconfig,
		KubeconfigContext: kubeconfigContext,
	}
}

// Install applies the whole bundle found at url, even when only one CRD is missing.
func (i *CRDInstaller) Install(ctx context.Context, url string) error {
	log := ctrl.LoggerFrom(ctx)

	args := []string{"apply", "-f", url}
	if i.Kubeconfig != "" {
		args = append(args, "--kubeconfig", i.Kubeconfig)
	}

	if i.KubeconfigContext != "" {
		args = append(args, "--context", i.KubeconfigContext)
	}

	kubectl := i.Kubectl
	if kubectl == "" {
		kubectl = kubectlBinary
	}

	log.Info("Installing Flux CRDs", "URL", url)

	out, err := i.Exec.CommandContext(ctx, kubectl, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s apply -f %s failed: %w: %s", kubectl, url, err, strings.TrimSpace(string(out)))
	}

	log.V(5).Info("kubectl apply finished", "Output", string(out))
	log.Info("Flux CRDs installed successfully")

	return nil
}
