// Package scratch provides per-conversion temporary storage. Every artifact
// lives under one directory owned by a single conversion token and is
// removed by Release.
package scratch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const dirPrefix = "motionlive-"

var ErrReleased = errors.New("scratch area released")

// Area is the temporary directory of one conversion.
type Area struct {
	token string
	dir   string

	mu        sync.Mutex
	artifacts []string
	released  bool
}

// New creates <base>/motionlive-<token>. An empty base uses os.TempDir.
func New(base, token string) (*Area, error) {
	if token == "" || strings.ContainsAny(token, `/\`) || token == "." || token == ".." {
		return nil, fmt.Errorf("invalid scratch token %q", token)
	}
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch base: %w", err)
	}
	dir := filepath.Join(base, dirPrefix+token)
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create scratch area: %w", err)
	}
	return &Area{token: token, dir: dir}, nil
}

func (a *Area) Token() string { return a.token }

func (a *Area) Dir() string { return a.dir }

// Path registers and returns the artifact path <token>-<role>.<ext>. The file
// is not created.
func (a *Area) Path(role, ext string) string {
	p := filepath.Join(a.dir, a.token+"-"+role+"."+strings.TrimPrefix(ext, "."))
	a.mu.Lock()
	a.artifacts = append(a.artifacts, p)
	a.mu.Unlock()
	return p
}

// Write stores data as a new artifact and syncs it to disk before returning.
func (a *Area) Write(role, ext string, data []byte) (string, error) {
	if a.isReleased() {
		return "", ErrReleased
	}
	p := a.Path(role, ext)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", err
	}
	return p, f.Close()
}

// Copy copies src into the area as a new artifact.
func (a *Area) Copy(role, ext, src string) (string, error) {
	if a.isReleased() {
		return "", ErrReleased
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	p := a.Path(role, ext)
	out, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return "", err
	}
	return p, out.Close()
}

// Artifacts lists every path handed out so far.
func (a *Area) Artifacts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.artifacts...)
}

// Release removes the area and everything in it. Safe to call more than once.
func (a *Area) Release() error {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return nil
	}
	a.released = true
	a.mu.Unlock()

	if err := os.RemoveAll(a.dir); err != nil {
		return fmt.Errorf("failed to release scratch area: %w", err)
	}
	return nil
}

func (a *Area) isReleased() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// Sweep removes the areas under base whose token stale reports true and
// returns how many were removed. Entries that are not scratch areas are left
// alone.
func Sweep(base string, stale func(token string) bool) (int, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list scratch base: %w", err)
	}

	removed := 0
	for _, e := range entries {
		token, ok := strings.CutPrefix(e.Name(), dirPrefix)
		if !ok || !e.IsDir() || token == "" || !stale(token) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(base, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove scratch area %s: %w", token, err)
		}
		removed++
	}
	return removed, nil
}
