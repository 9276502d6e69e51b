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

package manifests

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantKinds []string
		wantErr   bool
	}{
		{
			name: "single document",
			data: `apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
`,
			wantKinds: []string{"ConfigMap"},
		},
		{
			name: "multiple documents with empty ones",
			data: `---
apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
---
# nothing here
---
apiVersion: source.toolkit.fluxcd.io/v1beta1
kind: GitRepository
metadata:
  name: flux-system
`,
			wantKinds: []string{"ConfigMap", "GitRepository"},
		},
		{
			name:      "empty stream",
			data:      "",
			wantKinds: []string{},
		},
		{
			name: "missing kind",
			data: `apiVersion: v1
metadata:
  name: settings
`,
			wantKinds: []string{},
			wantErr:   true,
		},
		{
			name:      "invalid yaml",
			data:      "kind: [ConfigMap\n",
			wantKinds: []string{},
			wantErr:   true,
		},
		{
			name: "undecodable document does not drop the others",
			data: `apiVersion: v1
kind: ConfigMap
metadata:
  name: good
---
apiVersion: v1
metadata:
  name: nokind
---
apiVersion: v1
kind: Secret
metadata:
  name: after
`,
			wantKinds: []string{"ConfigMap", "Secret"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			objs, err := Parse([]byte(tt.data))
			if tt.wantErr {
				g.Expect(err).To(HaveOccurred())
			} else {
				g.Expect(err).NotTo(HaveOccurred())
			}

			kinds := []string{}
			for _, obj := range objs {
				kinds = append(kinds, obj.GetKind())
			}

			g.Expect(kinds).To(Equal(tt.wantKinds))
		})
	}
}

func TestLoad(t *testing.T) {
	g := NewWithT(t)

	root := t.TempDir()

	writeFile(t, filepath.Join(root, "source.yaml"), `apiVersion: source.toolkit.fluxcd.io/v1beta1
kind: GitRepository
metadata:
  name: flux-system
---
apiVersion: kustomize.toolkit.fluxcd.io/v1beta1
kind: Kustomization
metadata:
  name: apps
`)
	writeFile(t, filepath.Join(root, "nested", "config.yml"), `apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
`)
	writeFile(t, filepath.Join(root, "broken.yaml"), "kind: [ConfigMap\n")
	writeFile(t, filepath.Join(root, "mixed.yaml"), `apiVersion: v1
kind: ConfigMap
metadata:
  name: kept
---
apiVersion: v1
metadata:
  name: nokind
`)
	writeFile(t, filepath.Join(root, "README.md"), "# not a manifest\n")

	docs, err := Load(context.Background(), root, LoadOptions{})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(docs).To(HaveLen(4))

	names := []string{}
	for _, doc := range docs {
		names = append(names, doc.Object.GetName())
	}

	g.Expect(names).To(ConsistOf("flux-system", "apps", "settings", "kept"))
}

func TestLoadMissingDirectory(t *testing.T) {
	g := NewWithT(t)

	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing"), LoadOptions{})
	g.Expect(err).To(HaveOccurred())

	file := filepath.Join(t.TempDir(), "file.yaml")
	writeFile(t, file, "")

	_, err = Load(context.Background(), file, LoadOptions{})
	g.Expect(err).To(HaveOccurred())
}

func TestLoadSubstitute(t *testing.T) {
	g := NewWithT(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config.yaml"), `apiVersion: v1
kind: ConfigMap
metadata:
  name: ${NAME}
  namespace: ${NAMESPACE:=flux-system}
data:
  cluster: ${FLUXIFIED_TEST_CLUSTER}
`)

	t.Setenv("FLUXIFIED_TEST_CLUSTER", "dev")

	docs, err := Load(context.Background(), root, LoadOptions{
		Substitute: true,
		Variables:  map[string]string{"NAME": "settings"},
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(docs).To(HaveLen(1))

	obj := docs[0].Object
	g.Expect(obj.GetName()).To(Equal("settings"))
	g.Expect(obj.GetNamespace()).To(Equal("flux-system"))
	g.Expect(obj.Object["data"]).To(HaveKeyWithValue("cluster", "dev"))

	docs, err = Load(context.Background(), root, LoadOptions{})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(docs[0].Object.GetName()).To(Equal("${NAME}"))
}
