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
	"regexp"
	"strings"
)

var cleanUsernameRe = regexp.MustCompile(`[^a-z0-9-]`)

// Dataset is one fetched view of the ecosystem
type Dataset struct {
	usernames map[string]struct{}
	repos     []string
}

func newDataset(usernames []string, repos []string) *Dataset {
	d := &Dataset{
		usernames: make(map[string]struct{}, len(usernames)),
		repos:     repos,
	}
	for _, u := range usernames {
		d.usernames[strings.ToLower(u)] = struct{}{}
	}
	return d
}

func (d *Dataset) Len() int {
	return len(d.usernames)
}

// Contains reports whether username owns any ecosystem repository. It tries
// the lowercased name, then the name stripped to GitHub username characters,
// then both against the raw repository URLs.
func (d *Dataset) Contains(username string) bool {
	u := strings.ToLower(strings.TrimSpace(username))
	if u == "" {
		return false
	}
	if _, ok := d.usernames[u]; ok {
		return true
	}
	clean := cleanUsernameRe.ReplaceAllString(u, "")
	if clean == "" {
		return false
	}
	if _, ok := d.usernames[clean]; ok {
		return true
	}
	for _, repo := range d.repos {
		owner, ok := repoOwner(repo)
		if !ok {
			continue
		}
		if owner == u || owner == clean {
			return true
		}
	}
	return false
}

// repoOwner returns the owner path segment of a github.com URL
func repoOwner(url string) (string, bool) {
	s := strings.ToLower(url)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	rest, ok := strings.CutPrefix(s, "github.com/")
	if !ok {
		return "", false
	}
	owner, _, _ := strings.Cut(rest, "/")
	return owner, owner != ""
}
