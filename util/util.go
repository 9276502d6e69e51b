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

package util

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5"
)

const (
	httpsScheme      = "https"
	sshRemotePrefix  = "git@"
	gitSuffix        = ".git"
	originRemoteName = "origin"
)

// ErrUnsupportedRemote is returned when a remote URL is neither an scp-like SSH
// address nor an HTTPS URL.
var ErrUnsupportedRemote = errors.New("unsupported repository URL format")

// OriginURL returns the first URL of the "origin" remote of the git work tree
// containing dir.
func OriginURL(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("cannot open git repository at %s: %w", dir, err)
	}

	remote, err := repo.Remote(originRemoteName)
	if err != nil {
		return "", fmt.Errorf("cannot read remote %q: %w", originRemoteName, err)
	}

	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %q has no URL configured", originRemoteName)
	}

	return strings.TrimSpace(urls[0]), nil
}

// Remote is a git remote URL split into the host serving it and the repository path.
type Remote struct {
	Host  string
	Owner string
	Repo  string
}

// FullName returns the repository in the "owner/repo" form.
func (r Remote) FullName() string {
	return r.Owner + "/" + r.Repo
}

// ParseRemoteURL splits a git remote URL into host, owner and repository.
// Supported inputs are git@host:owner/repo(.git) and https://host/owner/repo(.git).
func ParseRemoteURL(remote string) (Remote, error) {
	remote = strings.TrimSpace(remote)

	var host, repoPath string

	switch {
	case strings.HasPrefix(remote, sshRemotePrefix):
		address, path, found := strings.Cut(strings.TrimPrefix(remote, sshRemotePrefix), ":")
		if !found || address == "" {
			return Remote{}, fmt.Errorf("%w: %q", ErrUnsupportedRemote, remote)
		}

		host, repoPath = address, path
	case strings.HasPrefix(remote, httpsScheme+"://"):
		rURL, err := url.Parse(remote)
		if err != nil {
			return Remote{}, fmt.Errorf("failed to parse repository url %q: %w", remote, err)
		}

		host, repoPath = rURL.Hostname(), rURL.Path
	default:
		return Remote{}, fmt.Errorf("%w: %q", ErrUnsupportedRemote, remote)
	}

	repoPath = strings.TrimSuffix(strings.Trim(repoPath, "/"), gitSuffix)

	owner, repo, found := strings.Cut(repoPath, "/")
	if host == "" || !found || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return Remote{}, fmt.Errorf("%w: %q does not name an owner/repo pair", ErrUnsupportedRemote, remote)
	}

	return Remote{Host: host, Owner: owner, Repo: repo}, nil
}

// RepositoryFromRemoteURL converts a git remote URL into the "owner/repo" form.
func RepositoryFromRemoteURL(remote string) (string, error) {
	r, err := ParseRemoteURL(remote)
	if err != nil {
		return "", err
	}

	return r.FullName(), nil
}

// SplitRepository splits "owner/repo" into its two parts.
func SplitRepository(fullName string) (owner, repo string, err error) {
	owner, repo, found := strings.Cut(fullName, "/")
	if !found || owner == "" || repo == "" {
		return "", "", fmt.Errorf("invalid repository name %q, expected owner/repo", fullName)
	}

	return owner, repo, nil
}
