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

// Package patch customizes bootstrap manifests before they are applied, using
// JSON merge patches or RFC 6902 JSON patches scoped by a target selector.
package patch

import (
	"bytes"
	"fmt"
	"os"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/yaml"
)

// Patch is one patch and the objects it targets. A nil Target matches every object.
type Patch struct {
	Target *Selector `json:"target,omitempty"`
	// Patch is YAML or JSON. A list is an RFC 6902 patch, a map a merge patch.
	Patch string `json:"patch"`
}

// LoadFile reads a YAML list of patches.
func LoadFile(path string) ([]Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read patches file: %w", err)
	}

	patches := []Patch{}
	if err := yaml.UnmarshalStrict(data, &patches); err != nil {
		return nil, fmt.Errorf("cannot parse patches file %s: %w", path, err)
	}

	return patches, nil
}

// Apply patches objs in place, in patch order.
func Apply(objs []*unstructured.Unstructured, patches []Patch) error {
	for patchIdx, p := range patches {
		patchJSON, err := yaml.YAMLToJSON([]byte(p.Patch))
		if err != nil {
			return fmt.Errorf("patch %d: failed to convert patch YAML to JSON: %w", patchIdx, err)
		}

		var ls labels.Selector
		if p.Target != nil && p.Target.LabelSelector != "" {
			ls, err = labels.Parse(p.Target.LabelSelector)
			if err != nil {
				return fmt.Errorf("patch %d: failed to parse label selector %q: %w", patchIdx, p.Target.LabelSelector, err)
			}
		}

		for _, obj := range objs {
			if !p.Target.matches(obj, ls) {
				continue
			}

			if err := applyJSON(obj, patchJSON); err != nil {
				return fmt.Errorf("patch %d: failed to apply patch to %s %s/%s: %w", patchIdx, obj.GetKind(), obj.GetNamespace(), obj.GetName(), err)
			}
		}
	}

	return nil
}

func applyJSON(obj *unstructured.Unstructured, patchJSON []byte) error {
	objJSON, err := obj.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal object to JSON: %w", err)
	}

	var patched []byte

	switch trimmed := bytes.TrimSpace(patchJSON); {
	case bytes.HasPrefix(trimmed, []byte("[")):
		p, err := jsonpatch.DecodePatch(trimmed)
		if err != nil {
			return fmt.Errorf("failed to decode RFC6902 patch: %w", err)
		}

		if patched, err = p.Apply(objJSON); err != nil {
			return fmt.Errorf("failed to apply RFC6902 patch: %w", err)
		}
	case bytes.HasPrefix(trimmed, []byte("{")):
		if patched, err = jsonpatch.MergePatch(objJSON, trimmed); err != nil {
			return fmt.Errorf("failed to apply merge patch: %w", err)
		}
	default:
		return fmt.Errorf("unable to infer patch type")
	}

	if err := obj.UnmarshalJSON(patched); err != nil {
		return fmt.Errorf("failed to unmarshal patched JSON to object: %w", err)
	}

	return nil
}
