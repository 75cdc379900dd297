// Package ledger keeps newline-delimited URL lists on disk: the worklist
// ledger of URLs already stored (output.log) and the error ledger of URLs that
// failed to fetch (err.log).
//
// Every Append opens, writes and closes the file so that at most one URL's
// progress is lost if the process dies.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

type File struct {
	path string
}

func New(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string {
	return f.path
}

// Append adds url as a new line.
func (f *File) Append(url string) error {
	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", f.path, err)
	}
	if _, err := fh.WriteString(url + "\n"); err != nil {
		fh.Close()
		return fmt.Errorf("write ledger %s: %w", f.path, err)
	}
	return fh.Close()
}

// Clear removes the file. A missing file is already clear.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear ledger %s: %w", f.path, err)
	}
	return nil
}

// Entries returns the recorded URLs as a set. A missing file is empty.
func (f *File) Entries() (map[string]struct{}, error) {
	fh, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", f.path, err)
	}
	defer fh.Close()

	entries := make(map[string]struct{})
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			entries[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", f.path, err)
	}
	return entries, nil
}

// ReadURLs reads an input list: one URL per line, blank lines and
// '#' comments ignored, duplicates collapsed to their first occurrence.
func ReadURLs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return Dedupe(strings.Split(string(data), "\n")), nil
}

// Dedupe trims, drops blanks and comments, and removes repeats in order.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || strings.HasPrefix(u, "#") {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
