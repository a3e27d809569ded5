// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"net/url"
	"strings"
)

// NamespaceID derives the storage namespace identifier for a repository URL.
// It is a pure function of the URL's path: the same URL always yields the
// same namespace, and URLs with different paths yield different namespaces
// for typical inputs.
//
// Examples:
//
//	https://github.com/user/repo.git  -> user-repo
//	git@github.com:user/repo.git      -> user-repo
//	https://example.com/a/b/c         -> a-b-c
func NamespaceID(repoURL string) string {
	path := repoPath(repoURL)
	path = strings.TrimSuffix(path, ".git")
	path = strings.Trim(path, "/")

	var b strings.Builder
	b.Grow(len(path))
	lastDash := false
	for _, r := range strings.ToLower(path) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		// Collapse runs of separators into a single dash, skip leading ones.
		if !lastDash && b.Len() > 0 {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// repoPath extracts the path component of a repository reference.
// Handles standard URLs (https://, ssh://, file://) and scp-style
// git@host:path references.
func repoPath(repoURL string) string {
	if strings.HasPrefix(repoURL, "git@") {
		// scp-style: everything after the first colon is the path
		if idx := strings.Index(repoURL, ":"); idx >= 0 {
			return repoURL[idx+1:]
		}
		return repoURL
	}

	parsed, err := url.Parse(repoURL)
	if err != nil || parsed.Path == "" {
		return repoURL
	}
	return parsed.Path
}

// RepoName extracts a short human-readable name from a repository URL,
// used to label transient clone directories. Falls back to "repo" when the
// URL has no usable path segment.
func RepoName(repoURL string) string {
	path := strings.TrimSuffix(repoPath(repoURL), ".git")
	path = strings.Trim(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[idx+1:]
	}
	if path == "" {
		return "repo"
	}
	return path
}
