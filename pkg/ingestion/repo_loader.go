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
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"log/slog"
)

var (
	// validGitURLPattern matches valid git URLs (https, ssh, file)
	// Allows: https://github.com/user/repo.git, git@github.com:user/repo.git, file:///path/to/repo
	validGitURLPattern = regexp.MustCompile(`^(https?://|git@|ssh://|file://)[\w.\-@:/%]+$`)

	// dangerousCharsPattern matches characters that could be used for command injection
	dangerousCharsPattern = regexp.MustCompile(`[;&|$` + "`" + `\n\r\\]`)
)

// excludedDirs are directory base names never descended into: version-control
// metadata and dependency or build output.
var excludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"vendor":       true,
	"target":       true,
	"__pycache__":  true,
}

// excludedFiles are file base names never indexed: lockfiles, manifests and
// OS metadata whose content adds noise rather than signal.
var excludedFiles = map[string]bool{
	".DS_Store":         true,
	".gitignore":        true,
	"package.json":      true,
	"package-lock.json": true,
	"yarn.lock":         true,
	"go.sum":            true,
}

// allowedExtensions are the source and text formats eligible for indexing.
var allowedExtensions = map[string]bool{
	".js":   true,
	".jsx":  true,
	".ts":   true,
	".tsx":  true,
	".css":  true,
	".html": true,
	".py":   true,
	".md":   true,
	".txt":  true,
	".go":   true,
	".java": true,
	".rb":   true,
	".rs":   true,
	".c":    true,
	".h":    true,
	".cpp":  true,
	".yaml": true,
	".yml":  true,
}

// DefaultMaxFileSize bounds the size of a single indexed file (1 MiB).
const DefaultMaxFileSize = 1024 * 1024

// SourceFile is a readable file produced by materializing a repository.
// Path is relative to the repository root; Content is the full file text.
type SourceFile struct {
	Path    string
	Content string
}

// RepoLoader materializes remote repositories into transient local clones.
type RepoLoader struct {
	logger      *slog.Logger
	maxFileSize int64
}

// NewRepoLoader creates a new repository loader.
func NewRepoLoader(logger *slog.Logger) *RepoLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepoLoader{
		logger:      logger,
		maxFileSize: DefaultMaxFileSize,
	}
}

// SetMaxFileSize overrides the per-file size limit. Zero or negative disables
// the limit.
func (rl *RepoLoader) SetMaxFileSize(limit int64) {
	rl.maxFileSize = limit
}

// Materialize clones the repository at repoURL into a fresh transient
// directory, walks it with the fixed filtering policy, and returns the
// readable files plus a cleanup function.
//
// The cleanup function removes the transient directory and must be called
// (typically deferred) on every exit path. It tolerates the directory having
// already vanished; removal failure is logged, never returned. When
// Materialize itself fails, the directory has already been removed and the
// returned cleanup is a no-op.
func (rl *RepoLoader) Materialize(ctx context.Context, repoURL string) ([]SourceFile, func(), error) {
	noop := func() {}

	if err := ValidateRepoURL(repoURL); err != nil {
		return nil, noop, fmt.Errorf("invalid git URL: %w", err)
	}

	tmpDir, err := rl.cloneGitRepo(ctx, repoURL)
	if err != nil {
		return nil, noop, err
	}

	cleanup := func() {
		if err := os.RemoveAll(tmpDir); err != nil && !os.IsNotExist(err) {
			rl.logger.Warn("repo.cleanup.error", "dir", tmpDir, "err", err)
			return
		}
		rl.logger.Debug("repo.cleanup.done", "dir", tmpDir)
	}

	files, skipReasons, err := rl.walkRepository(tmpDir)
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("walk repository: %w", err)
	}

	totalSize := 0
	for _, f := range files {
		totalSize += len(f.Content)
	}
	rl.logger.Info("repo.load.complete",
		"files", len(files),
		"total_size", totalSize,
		"skip_reasons", skipReasons,
	)

	return files, cleanup, nil
}

// ValidateRepoURL validates a git URL to prevent command injection.
// Returns an error if the URL is invalid or contains dangerous characters.
func ValidateRepoURL(gitURL string) error {
	if gitURL == "" {
		return fmt.Errorf("git URL is empty")
	}

	// Check for dangerous characters that could enable command injection
	if dangerousCharsPattern.MatchString(gitURL) {
		return fmt.Errorf("git URL contains dangerous characters")
	}

	// For HTTPS URLs, validate using net/url package
	if strings.HasPrefix(gitURL, "http://") || strings.HasPrefix(gitURL, "https://") {
		parsed, err := url.Parse(gitURL)
		if err != nil {
			return fmt.Errorf("invalid URL format: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("git URL missing host")
		}
		if parsed.Path == "" || parsed.Path == "/" {
			return fmt.Errorf("git URL missing repository path")
		}
		// Check for username:password@ in URL (credential leak risk)
		if parsed.User != nil {
			if _, hasPassword := parsed.User.Password(); hasPassword {
				return fmt.Errorf("git URL should not contain embedded password")
			}
		}
		return nil
	}

	// For SSH URLs (git@host:path or ssh://), validate format
	if strings.HasPrefix(gitURL, "git@") || strings.HasPrefix(gitURL, "ssh://") {
		if !validGitURLPattern.MatchString(gitURL) {
			return fmt.Errorf("invalid SSH git URL format")
		}
		return nil
	}

	if strings.HasPrefix(gitURL, "file://") {
		return nil
	}

	return fmt.Errorf("unsupported git URL protocol: must be https://, git@, ssh://, or file://")
}

// cloneGitRepo clones a git repository to a fresh temporary directory named
// after the repository plus a high-resolution timestamp, so concurrent jobs
// for the same repository never collide.
func (rl *RepoLoader) cloneGitRepo(ctx context.Context, gitURL string) (string, error) {
	pattern := fmt.Sprintf("repochat-%s-%d-*", RepoName(gitURL), time.Now().UnixNano())
	tmpDir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	// Shallow clone (depth 1): only the latest commit matters for indexing.
	// #nosec G204 - gitURL is validated above to prevent command injection
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--quiet", gitURL, tmpDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// Sanitize URL for logging (hide potential tokens in query params)
	logURL := gitURL
	if parsed, err := url.Parse(gitURL); err == nil {
		parsed.RawQuery = ""
		if parsed.User != nil {
			parsed.User = url.User("***")
		}
		logURL = parsed.String()
	}

	rl.logger.Info("repo.clone.start", "url", logURL, "temp_dir", tmpDir)

	if err := cmd.Run(); err != nil {
		// Cleanup on failure; the clone already failed, ignore removal errors
		_ = os.RemoveAll(tmpDir)
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("git clone failed: %s: %w", msg, err)
		}
		return "", fmt.Errorf("git clone failed: %w", err)
	}

	rl.logger.Info("repo.clone.success", "url", logURL, "temp_dir", tmpDir)
	return tmpDir, nil
}

// walkRepository walks the clone and reads every file that passes the
// filtering policy. A file that cannot be read or decoded as text is skipped
// and logged, never fatal.
func (rl *RepoLoader) walkRepository(rootPath string) ([]SourceFile, map[string]int, error) {
	var files []SourceFile
	skipReasons := make(map[string]int)

	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Log but continue on permission errors
			rl.logger.Warn("repo.walk.error", "path", path, "err", err)
			return nil
		}

		if d.IsDir() {
			if excludedDirs[d.Name()] {
				skipReasons["excluded_dir"]++
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(rootPath, path)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if excludedFiles[d.Name()] {
			skipReasons["excluded_file"]++
			return nil
		}
		if !allowedExtensions[strings.ToLower(filepath.Ext(path))] {
			skipReasons["unsupported_extension"]++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if rl.maxFileSize > 0 && info.Size() > rl.maxFileSize {
			skipReasons["too_large"]++
			rl.logger.Warn("repo.walk.skip_large_file",
				"path", relPath,
				"size", info.Size(),
				"limit", rl.maxFileSize,
			)
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			skipReasons["unreadable"]++
			rl.logger.Warn("repo.walk.skip_unreadable", "path", relPath, "err", err)
			return nil
		}
		if !isTextContent(content) {
			skipReasons["not_text"]++
			rl.logger.Warn("repo.walk.skip_binary", "path", relPath)
			return nil
		}

		files = append(files, SourceFile{
			Path:    relPath,
			Content: string(content),
		})
		return nil
	})

	return files, skipReasons, err
}

// isTextContent reports whether data decodes as text: valid UTF-8 with no
// NUL bytes.
func isTextContent(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return false
	}
	return utf8.Valid(data)
}
