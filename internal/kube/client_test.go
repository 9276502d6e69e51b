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

package kube

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

const testKubeconfig = `apiVersion: v1
kind: Config
clusters:
- name: dev
  cluster:
    server: https://dev.example.com:6443
- name: prod
  cluster:
    server: https://prod.example.com:6443
contexts:
- name: dev
  context:
    cluster: dev
    user: admin
- name: prod
  context:
    cluster: prod
    user: admin
current-context: dev
users:
- name: admin
  user:
    token: secret
`

func TestLoadConfig(t *testing.T) {
	g := NewWithT(t)

	path := filepath.Join(t.TempDir(), "config")
	g.Expect(os.WriteFile(path, []byte(testKubeconfig), 0o600)).To(Succeed())

	config, err := LoadConfig(path, "")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(config.Host).To(Equal("https://dev.example.com:6443"))

	config, err = LoadConfig(path, "prod")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(config.Host).To(Equal("https://prod.example.com:6443"))

	clients, err := NewClients(config)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(clients.Core).NotTo(BeNil())
	g.Expect(clients.Dynamic).NotTo(BeNil())
	g.Expect(clients.APIExtensions).NotTo(BeNil())
}

func TestLoadConfigMissingFile(t *testing.T) {
	g := NewWithT(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing"), "")
	g.Expect(err).To(HaveOccurred())
}

func TestEnsureNamespaceExists(t *testing.T) {
	tests := []struct {
		name        string
		existing    []runtime.Object
		wantCreates int
	}{
		{
			name:        "namespace is created",
			wantCreates: 1,
		},
		{
			name:        "namespace already exists",
			existing:    []runtime.Object{&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "flux-system"}}},
			wantCreates: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			client := fake.NewSimpleClientset(tt.existing...)

			g.Expect(EnsureNamespaceExists(context.Background(), client, "flux-system")).To(Succeed())

			creates := 0

			for _, action := range client.Actions() {
				if action.GetVerb() == "create" {
					creates++
				}
			}

			g.Expect(creates).To(Equal(tt.wantCreates))

			_, err := client.CoreV1().Namespaces().Get(context.Background(), "flux-system", metav1.GetOptions{})
			g.Expect(err).NotTo(HaveOccurred())
		})
	}
}

func TestEnsureNamespaceExistsGetError(t *testing.T) {
	g := NewWithT(t)

	client := fake.NewSimpleClientset()
	client.PrependReactor("get", "namespaces", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection refused")
	})

	err := EnsureNamespaceExists(context.Background(), client, "flux-system")
	g.Expect(err).To(MatchError(ContainSubstring("connection refused")))
}
