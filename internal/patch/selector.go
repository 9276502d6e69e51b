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
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
)

// Selector picks the objects a patch applies to. Empty fields match anything.
type Selector struct {
	Group         string `json:"group,omitempty"`
	Version       string `json:"version,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Name          string `json:"name,omitempty"`
	Namespace     string `json:"namespace,omitempty"`
	LabelSelector string `json:"labelSelector,omitempty"`
}

func (s *Selector) matches(obj *unstructured.Unstructured, ls labels.Selector) bool {
	if s == nil {
		return true
	}

	gvk := obj.GroupVersionKind()

	if s.Group != "" && s.Group != gvk.Group {
		return false
	}

	if s.Version != "" && s.Version != gvk.Version {
		return false
	}

	if s.Kind != "" && s.Kind != gvk.Kind {
		return false
	}

	if s.Name != "" && s.Name != obj.GetName() {
		return false
	}

	if s.Namespace != "" && s.Namespace != obj.GetNamespace() {
		return false
	}

	if ls != nil && !ls.Matches(labels.Set(obj.GetLabels())) {
		return false
	}

	return true
}
