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
	"testing"

	. "github.com/onsi/gomega"
	utilexec "k8s.io/utils/exec"
	testingexec "k8s.io/utils/exec/testing"
)

const githubHostKey = "github.com ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIOMqqnkVzrm0SdG6UOoqKLsabgH5C9okWi0dh2l9GKJl"

func fakeKeyscan(output string, err error, gotArgs *[]string) *testingexec.FakeExec {
	return &testingexec.FakeExec{
		CommandScript: []testingexec.FakeCommandAction{
			func(cmd string, args ...string) utilexec.Cmd {
				*gotArgs = append([]string{cmd}, args...)

				fcmd := &testingexec.FakeCmd{
					OutputScript: []testingexec.FakeAction{
						func() ([]byte, []byte, error) { return []byte(output), nil, err },
					},
				}

				return testingexec.InitFakeCmd(fcmd, cmd, args...)
			},
		},
	}
}

func TestHostKeyScannerScan(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		err     error
		want    string
		wantErr error
	}{
		{
			name:   "single key",
			output: githubHostKey + "\n",
			want:   githubHostKey,
		},
		{
			name:   "comments are kept",
			output: "# github.com:22 SSH-2.0-babeld\n" + githubHostKey + "\n",
			want:   "# github.com:22 SSH-2.0-babeld\n" + githubHostKey,
		},
		{
			name:    "empty output",
			output:  "\n",
			wantErr: ErrNoHostKeys,
		},
		{
			name:   "command failure",
			output: "",
			err:    &testingexec.FakeExitError{Status: 1},
		},
		{
			name:   "garbage",
			output: "github.com not-a-key\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			var args []string

			scanner := &HostKeyScanner{Exec: fakeKeyscan(tt.output, tt.err, &args)}

			got, err := scanner.Scan(context.Background(), "github.com")
			g.Expect(args).To(Equal([]string{"ssh-keyscan", "github.com"}))

			if tt.want == "" {
				g.Expect(err).To(HaveOccurred())

				if tt.wantErr != nil {
					g.Expect(err).To(MatchError(tt.wantErr))
				}

				return
			}

			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(got).To(Equal(tt.want))
		})
	}
}
