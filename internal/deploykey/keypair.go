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

// Package deploykey provisions the SSH deploy key Flux uses to pull from GitHub:
// key generation, host key discovery, GitHub registration and the cluster secret.
package deploykey

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	utilexec "k8s.io/utils/exec"
	ctrl "sigs.k8s.io/controller-runtime"
)

const (
	sshKeygenBinary = "ssh-keygen"
	keyFileName     = "flux-repo-key"
	keyComment      = "flux"
	keyType         = "rsa"
	keyBits         = "4096"
)

// KeyPair is an SSH key pair generated into an ephemeral directory.
type KeyPair struct {
	PublicKey   string
	PrivateKey  string
	Fingerprint string

	// Dir holds the key files until Cleanup is called.
	Dir string
}

// Cleanup removes the directory holding the key files.
func (k *KeyPair) Cleanup() error {
	if k == nil || k.Dir == "" {
		return nil
	}

	if err := os.RemoveAll(k.Dir); err != nil {
		return fmt.Errorf("cannot remove key directory %s: %w", k.Dir, err)
	}

	return nil
}

// KeyGenerator creates key pairs with ssh-keygen.
type KeyGenerator struct {
	Exec   utilexec.Interface
	Keygen string

	// TempDir is the parent of the ephemeral key directory, the OS default when empty.
	TempDir string
}

// NewKeyGenerator returns a generator backed by the ssh-keygen found in PATH.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{
		Exec:   utilexec.New(),
		Keygen: sshKeygenBinary,
	}
}

// Generate creates a passphrase-less 4096 bit RSA key pair. The caller owns the
// returned directory and must call Cleanup.
func (g *KeyGenerator) Generate(ctx context.Context) (keyPair *KeyPair, err error) {
	log := ctrl.LoggerFrom(ctx)

	dir, err := os.MkdirTemp(g.TempDir, "fluxified-")
	if err != nil {
		return nil, fmt.Errorf("cannot create key directory: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	keyPath := filepath.Join(dir, keyFileName)

	log.Info("Generating SSH key pair", "Directory", dir)

	keygen := g.Keygen
	if keygen == "" {
		keygen = sshKeygenBinary
	}

	out, err := g.Exec.CommandContext(ctx, keygen,
		"-t", keyType,
		"-b", keyBits,
		"-C", keyComment,
		"-f", keyPath,
		"-N", "",
	).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", keygen, err, strings.TrimSpace(string(out)))
	}

	publicKey, err := os.ReadFile(keyPath + ".pub")
	if err != nil {
		return nil, fmt.Errorf("cannot read public key: %w", err)
	}

	privateKey, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read private key: %w", err)
	}

	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("generated public key is invalid: %w", err)
	}

	keyPair = &KeyPair{
		PublicKey:   strings.TrimSpace(string(publicKey)),
		PrivateKey:  string(privateKey),
		Fingerprint: ssh.FingerprintSHA256(parsed),
		Dir:         dir,
	}

	log.V(5).Info("SSH key pair generated", "Fingerprint", keyPair.Fingerprint)

	return keyPair, nil
}
