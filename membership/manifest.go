// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package membership

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// manifest is an ecosystem file from the crypto-ecosystems taxonomy
type manifest struct {
	Title               string         `toml:"title"`
	GithubOrganizations []string       `toml:"github_organizations"`
	Repos               []manifestRepo `toml:"repo"`
}

type manifestRepo struct {
	URL  string   `toml:"url"`
	Tags []string `toml:"tags"`
}

var githubOwnerRe = regexp.MustCompile(`github\.com/([a-z0-9-]+)`)

// parseManifest extracts the repo URLs and the distinct GitHub owners
// referenced by an ecosystem manifest
func parseManifest(data []byte) (usernames []string, repos []string, err error) {
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w", err)
	}
	seen := make(map[string]struct{})
	addOwner := func(url string) {
		match := githubOwnerRe.FindStringSubmatch(strings.ToLower(url))
		if match == nil {
			return
		}
		if _, ok := seen[match[1]]; ok {
			return
		}
		seen[match[1]] = struct{}{}
		usernames = append(usernames, match[1])
	}
	for _, org := range m.GithubOrganizations {
		addOwner(org)
	}
	for _, repo := range m.Repos {
		if repo.URL == "" {
			continue
		}
		repos = append(repos, repo.URL)
		addOwner(repo.URL)
	}
	slices.Sort(usernames)
	return usernames, repos, nil
}
