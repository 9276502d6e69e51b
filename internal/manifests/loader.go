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

// Package manifests loads the bootstrap manifest tree and applies it to the
// cluster by deleting and recreating every object it describes.
package manifests

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/drone/envsubst/v2"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	kerrors "k8s.io/apimachinery/pkg/util/errors"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/yaml"
)

// Document is one object read from a manifest file.
type Document struct {
	Path   string
	Object *unstructured.Unstructured
}

// LoadOptions tune how manifest files are read.
type LoadOptions struct {
	// Substitute enables ${VAR} expansion before parsing.
	Substitute bool
	// Variables take precedence over the process environment during expansion.
	Variables map[string]string
}

// Load walks root for .yaml and .yml files and returns every document found.
// A missing root is an error. A file that cannot be read is logged and skipped,
// and a document that cannot be decoded is logged without dropping the rest of its file.
func Load(ctx context.Context, root string, opts LoadOptions) ([]Document, error) {
	log := ctrl.LoggerFrom(ctx)

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to find bootstrap path at %s: %w", root, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("bootstrap path %s is not a valid directory", root)
	}

	documents := []Document{}

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() || !isManifest(path) {
			return nil
		}

		objs, err := loadFile(path, opts)
		if err != nil {
			log.Error(err, "Skipping invalid manifest documents", "Path", path)
		}

		for _, obj := range objs {
			documents = append(documents, Document{Path: path, Object: obj})
		}

		log.V(5).Info("Loaded manifest file", "Path", path, "Documents", len(objs))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot walk bootstrap path %s: %w", root, err)
	}

	return documents, nil
}

func isManifest(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))

	return ext == ".yaml" || ext == ".yml"
}

func loadFile(path string, opts LoadOptions) ([]*unstructured.Unstructured, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if opts.Substitute {
		expanded, err := envsubst.Eval(string(data), lookupVariable(opts.Variables))
		if err != nil {
			return nil, fmt.Errorf("cannot substitute variables: %w", err)
		}

		data = []byte(expanded)
	}

	return Parse(data)
}

func lookupVariable(variables map[string]string) func(string) string {
	return func(name string) string {
		if value, ok := variables[name]; ok {
			return value
		}

		// keys read from a config file arrive lowercased
		if value, ok := variables[strings.ToLower(name)]; ok {
			return value
		}

		return os.Getenv(name)
	}
}

// Parse splits a multi-document YAML stream into objects. Empty documents are
// dropped. A document that cannot be decoded is reported in the returned error
// while the remaining documents are still returned; only a failure to read the
// stream itself yields no objects.
func Parse(data []byte) ([]*unstructured.Unstructured, error) {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(data)))
	objs := []*unstructured.Unstructured{}

	var errs []error

	for i := 0; ; i++ {
		chunk, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return objs, kerrors.NewAggregate(errs)
		}

		if err != nil {
			return nil, fmt.Errorf("cannot read document %d: %w", i, err)
		}

		raw, err := yaml.YAMLToJSON(chunk)
		if err != nil {
			errs = append(errs, fmt.Errorf("cannot parse document %d: %w", i, err))

			continue
		}

		if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			continue
		}

		obj := &unstructured.Unstructured{}
		if err := obj.UnmarshalJSON(raw); err != nil {
			errs = append(errs, fmt.Errorf("cannot decode document %d: %w", i, err))

			continue
		}

		objs = append(objs, obj)
	}
}
