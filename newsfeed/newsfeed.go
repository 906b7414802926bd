package newsfeed

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	ErrFeedNotFound = errors.New("feed not found")
	ErrInvalidName  = errors.New("invalid feed name")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store keeps one RSS file per source in a directory.
type Store struct {
	storageDir string
}

// ReadError describes a failure to read a single feed file.
type ReadError struct {
	Filename string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

// FeedFile describes a stored feed.
type FeedFile struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified_at"`
}

// ListResult contains the results of listing feeds, including any per-file
// errors that occurred during the operation.
type ListResult struct {
	Feeds  []FeedFile
	Errors []ReadError
}

// NewStore creates a feed store with the specified storage directory.
func NewStore(storageDir string) (*Store, error) {
	// 0700: owner-only access
	if err := os.MkdirAll(storageDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &Store{
		storageDir: storageDir,
	}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.storageDir
}

// Path returns the file path of the named feed.
func (s *Store) Path(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.storageDir, name+".xml"), nil
}

// Write renders feed as RSS and replaces the named feed file. The file is
// written to a temporary name first and renamed into place, so readers never
// see a partial feed and the last writer wins.
func (s *Store) Write(name string, feed *FeedModel, generatedAt time.Time) (string, error) {
	filename, err := s.Path(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := WriteRSS(&buf, feed, generatedAt); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.storageDir, "."+name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write feed: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to set feed permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close feed: %w", err)
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return "", fmt.Errorf("failed to replace feed: %w", err)
	}

	return filename, nil
}

// Read returns the raw RSS document of the named feed.
func (s *Store) Read(name string) ([]byte, error) {
	filename, err := s.Path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFeedNotFound
		}
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	return data, nil
}

// List returns all stored feeds sorted by name. Files that cannot be
// inspected are collected in the result's Errors slice rather than failing
// the entire operation.
func (s *Store) List() (*ListResult, error) {
	entries, err := os.ReadDir(s.storageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	result := &ListResult{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".xml" || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, ReadError{
				Filename: entry.Name(),
				Err:      err,
			})
			continue
		}

		result.Feeds = append(result.Feeds, FeedFile{
			Name:    strings.TrimSuffix(entry.Name(), ".xml"),
			Path:    filepath.Join(s.storageDir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
	}

	sort.Slice(result.Feeds, func(i, j int) bool {
		return result.Feeds[i].Name < result.Feeds[j].Name
	})

	return result, nil
}
