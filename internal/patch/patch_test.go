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

package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"
)

func object(t *testing.T, raw string) *unstructured.Unstructured {
	t.Helper()

	obj := &unstructured.Unstructured{}
	if err := yaml.Unmarshal([]byte(raw), &obj.Object); err != nil {
		t.Fatal(err)
	}

	return obj
}

const gitRepository = `apiVersion: source.toolkit.fluxcd.io/v1beta1
kind: GitRepository
metadata:
  name: flux-system
  namespace: flux-system
  labels:
    tier: platform
spec:
  interval: 1m
  ref:
    branch: main
`

const kustomization = `apiVersion: kustomize.toolkit.fluxcd.io/v1beta1
kind: Kustomization
metadata:
  name: apps
  namespace: flux-system
spec:
  interval: 10m
  path: ./apps
`

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		patches []Patch
		want    []string
		wantErr bool
	}{
		{
			name: "merge patch by kind",
			patches: []Patch{{
				Target: &Selector{Kind: "GitRepository"},
				Patch: `spec:
  ref:
    branch: release`,
			}},
			want: []string{
				`apiVersion: source.toolkit.fluxcd.io/v1beta1
kind: GitRepository
metadata:
  name: flux-system
  namespace: flux-system
  labels:
    tier: platform
spec:
  interval: 1m
  ref:
    branch: release
`,
				kustomization,
			},
		},
		{
			name: "rfc6902 patch without target",
			patches: []Patch{{
				Patch: `[{"op": "replace", "path": "/spec/interval", "value": "5m"}]`,
			}},
			want: []string{
				`apiVersion: source.toolkit.fluxcd.io/v1beta1
kind: GitRepository
metadata:
  name: flux-system
  namespace: flux-system
  labels:
    tier: platform
spec:
  interval: 5m
  ref:
    branch: main
`,
				`apiVersion: kustomize.toolkit.fluxcd.io/v1beta1
kind: Kustomization
metadata:
  name: apps
  namespace: flux-system
spec:
  interval: 5m
  path: ./apps
`,
			},
		},
		{
			name: "label selector",
			patches: []Patch{{
				Target: &Selector{LabelSelector: "tier!=platform"},
				Patch:  `{"spec": {"prune": true}}`,
			}},
			want: []string{
				gitRepository,
				`apiVersion: kustomize.toolkit.fluxcd.io/v1beta1
kind: Kustomization
metadata:
  name: apps
  namespace: flux-system
spec:
  interval: 10m
  path: ./apps
  prune: true
`,
			},
		},
		{
			name: "group and name must both match",
			patches: []Patch{{
				Target: &Selector{Group: "kustomize.toolkit.fluxcd.io", Name: "flux-system"},
				Patch:  `{"spec": {"suspend": true}}`,
			}},
			want: []string{gitRepository, kustomization},
		},
		{
			name: "invalid label selector",
			patches: []Patch{{
				Target: &Selector{LabelSelector: "tier in (("},
				Patch:  `{}`,
			}},
			wantErr: true,
		},
		{
			name: "scalar patch",
			patches: []Patch{{
				Patch: `just a string`,
			}},
			wantErr: true,
		},
		{
			name: "rfc6902 patch on a missing path",
			patches: []Patch{{
				Patch: `[{"op": "replace", "path": "/spec/missing/field", "value": 1}]`,
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			objs := []*unstructured.Unstructured{object(t, gitRepository), object(t, kustomization)}

			err := Apply(objs, tt.patches)
			if tt.wantErr {
				g.Expect(err).To(HaveOccurred())

				return
			}

			g.Expect(err).NotTo(HaveOccurred())

			for i, raw := range tt.want {
				want := object(t, raw)
				if diff := cmp.Diff(want.Object, objs[i].Object); diff != "" {
					t.Errorf("object %d mismatch (-want +got):\n%s", i, diff)
				}
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	g := NewWithT(t)

	path := filepath.Join(t.TempDir(), "patches.yaml")
	content := []byte(`- target:
    kind: Kustomization
    name: apps
  patch: |
    spec:
      prune: true
- patch: |
    - op: add
      path: /metadata/labels
      value: {}
`)
	g.Expect(os.WriteFile(path, content, 0o600)).To(Succeed())

	patches, err := LoadFile(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(patches).To(HaveLen(2))
	g.Expect(patches[0].Target).To(Equal(&Selector{Kind: "Kustomization", Name: "apps"}))
	g.Expect(patches[1].Target).To(BeNil())

	g.Expect(os.WriteFile(path, []byte("- target:\n    unknown: field\n"), 0o600)).To(Succeed())

	_, err = LoadFile(path)
	g.Expect(err).To(HaveOccurred())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	g.Expect(err).To(HaveOccurred())
}
