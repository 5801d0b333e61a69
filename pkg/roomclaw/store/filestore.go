// Package store – filestore.go implements the file/content store over a
// root directory: locator-addressed reads with metadata, overwrite/append
// writes, and line-context search. Locators are slash-separated paths
// relative to the root; traversal outside the root is rejected.
package store

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// WriteMode selects how Write treats existing content.
type WriteMode string

const (
	WriteOverwrite WriteMode = "overwrite"
	WriteAppend    WriteMode = "append"
)

// SearchMode selects how the query is matched.
type SearchMode string

const (
	SearchFixed SearchMode = "fixed" // case-insensitive substring
	SearchRegex SearchMode = "regex"
)

// contextLines is how many lines surround each search match.
const contextLines = 2

// FileInfo is the result of a Read.
type FileInfo struct {
	Content     string
	ContentType string
	Owner       string
	ModTime     time.Time
	Size        int64
}

// Match is one search hit with surrounding lines.
type Match struct {
	Line   int // 1-based
	Text   string
	Before []string
	After  []string
}

// FileStore serves locators from a root directory.
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FileStore{root: abs, logger: logger.With("component", "store")}, nil
}

// Root returns the store's root directory.
func (s *FileStore) Root() string { return s.root }

// resolve maps a locator to an absolute path inside the root.
func (s *FileStore) resolve(locator string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(locator))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("locator %q escapes the store root", locator)
	}
	return filepath.Join(s.root, clean), nil
}

// Read returns the content and metadata for a locator.
func (s *FileStore) Read(ctx context.Context, locator string) (*FileInfo, error) {
	path, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", locator, err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("locator %q is a directory", locator)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", locator, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "text/plain"
	}
	return &FileInfo{
		Content:     string(data),
		ContentType: contentType,
		Owner:       fileOwner(stat),
		ModTime:     stat.ModTime(),
		Size:        stat.Size(),
	}, nil
}

// Write stores content at a locator, creating parent directories.
func (s *FileStore) Write(ctx context.Context, locator, content string, mode WriteMode) error {
	path, err := s.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY
	switch mode {
	case WriteAppend:
		flags |= os.O_APPEND
	case WriteOverwrite, "":
		flags |= os.O_TRUNC
	default:
		return fmt.Errorf("unknown write mode %q", mode)
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", locator, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("write %s: %w", locator, err)
	}
	return nil
}

// Search scans the file at locator for the query and returns matches with
// surrounding line context.
func (s *FileStore) Search(ctx context.Context, locator, query string, mode SearchMode) ([]Match, error) {
	path, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", locator, err)
	}
	defer f.Close()

	var matcher func(line string) bool
	switch mode {
	case SearchRegex:
		re, err := regexp.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("compile search pattern: %w", err)
		}
		matcher = re.MatchString
	case SearchFixed, "":
		needle := strings.ToLower(query)
		matcher = func(line string) bool {
			return strings.Contains(strings.ToLower(line), needle)
		}
	default:
		return nil, fmt.Errorf("unknown search mode %q", mode)
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", locator, err)
	}

	var matches []Match
	for i, line := range lines {
		if !matcher(line) {
			continue
		}
		m := Match{Line: i + 1, Text: line}
		for j := max(0, i-contextLines); j < i; j++ {
			m.Before = append(m.Before, lines[j])
		}
		for j := i + 1; j <= min(len(lines)-1, i+contextLines); j++ {
			m.After = append(m.After, lines[j])
		}
		matches = append(matches, m)
	}
	return matches, nil
}
