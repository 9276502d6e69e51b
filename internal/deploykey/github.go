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
	"fmt"

	"github.com/google/go-github/v50/github"
	"golang.org/x/oauth2"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/fluxified/fluxified/util"
)

const listKeysPageSize = 100

// NewGitHubClient returns a GitHub API client authenticated with token. A
// non-empty baseURL targets a GitHub Enterprise installation.
func NewGitHubClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	if baseURL == "" {
		return github.NewClient(httpClient), nil
	}

	client, err := github.NewEnterpriseClient(baseURL, baseURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("cannot create GitHub client for %s: %w", baseURL, err)
	}

	return client, nil
}

// GitHubRepository manages the deploy keys of a single repository.
type GitHubRepository struct {
	client *github.Client
	owner  string
	name   string
}

// LookupRepository resolves fullName ("owner/repo") on GitHub.
func LookupRepository(ctx context.Context, client *github.Client, fullName string) (*GitHubRepository, error) {
	owner, name, err := util.SplitRepository(fullName)
	if err != nil {
		return nil, err
	}

	if _, _, err := client.Repositories.Get(ctx, owner, name); err != nil {
		return nil, fmt.Errorf("cannot get GitHub repository %s: %w", fullName, err)
	}

	return &GitHubRepository{
		client: client,
		owner:  owner,
		name:   name,
	}, nil
}

// HasDeployKey reports whether a deploy key titled title is registered.
func (r *GitHubRepository) HasDeployKey(ctx context.Context, title string) (bool, error) {
	opts := &github.ListOptions{PerPage: listKeysPageSize}

	for {
		keys, resp, err := r.client.Repositories.ListKeys(ctx, r.owner, r.name, opts)
		if err != nil {
			return false, fmt.Errorf("cannot list deploy keys of %s/%s: %w", r.owner, r.name, err)
		}

		for _, key := range keys {
			if key.GetTitle() == title {
				ctrl.LoggerFrom(ctx).Info("Deploy key already exists in GitHub", "Title", title)

				return true, nil
			}
		}

		if resp.NextPage == 0 {
			return false, nil
		}

		opts.Page = resp.NextPage
	}
}

// AddDeployKey registers publicKey as a read-only deploy key.
func (r *GitHubRepository) AddDeployKey(ctx context.Context, title, publicKey string) error {
	key := &github.Key{
		Title:    github.String(title),
		Key:      github.String(publicKey),
		ReadOnly: github.Bool(true),
	}

	if _, _, err := r.client.Repositories.CreateKey(ctx, r.owner, r.name, key); err != nil {
		return fmt.Errorf("cannot add deploy key to %s/%s: %w", r.owner, r.name, err)
	}

	ctrl.LoggerFrom(ctx).Info("Deploy key added to GitHub", "Title", title, "Repository", r.owner+"/"+r.name)

	return nil
}
