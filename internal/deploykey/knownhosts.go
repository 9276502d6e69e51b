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

package deploykey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/ssh"
	utilexec "k8s.io/utils/exec"
)

const sshKeyscanBinary = "ssh-keyscan"

// ErrNoHostKeys is returned when a scan yields no parsable host key.
var ErrNoHostKeys = errors.New("no host keys found")

// HostKeyScanner fetches SSH host keys with ssh-keyscan.
type HostKeyScanner struct {
	Exec    utilexec.Interface
	Keyscan string
}

// NewHostKeyScanner returns a scanner backed by the ssh-keyscan found in PATH.
func NewHostKeyScanner() *HostKeyScanner {
	return &HostKeyScanner{
		Exec:    utilexec.New(),
		Keyscan: sshKeyscanBinary,
	}
}

// Scan returns the known_hosts entries currently served by host.
func (s *HostKeyScanner) Scan(ctx context.Context, host string) (string, error) {
	keyscan := s.Keyscan
	if keyscan == "" {
		keyscan = sshKeyscanBinary
	}

	out, err := s.Exec.CommandContext(ctx, keyscan, host).Output()
	if err != nil {
		return "", fmt.Errorf("%s %s failed: %w", keyscan, host, err)
	}

	knownHosts := strings.TrimSpace(string(out))

	count, err := countHostKeys([]byte(knownHosts))
	if err != nil {
		return "", fmt.Errorf("%s %s returned malformed output: %w", keyscan, host, err)
	}

	if count == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoHostKeys, host)
	}

	return knownHosts, nil
}

// countHostKeys returns the number of known_hosts entries in data, skipping
// blank lines and comments.
func countHostKeys(data []byte) (int, error) {
	count := 0
	rest := data

	for {
		var err error

		_, _, _, _, rest, err = ssh.ParseKnownHosts(rest)
		if errors.Is(err, io.EOF) {
			return count, nil
		}

		if err != nil {
			return count, err
		}

		count++
	}
}
