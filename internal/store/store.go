// Package store persists harvest artifacts on the local filesystem. A repository
// artifact that has been durably written and renamed into place is also the
// checkpoint that lets a restarted run skip the repository.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/naka-gawa/org-harvest/internal/domain"
)

const (
	// CompanyInfoFile holds the resolution record of a company.
	CompanyInfoFile = "_company_info.json"

	companyInfoStem = "_company_info"
	artifactExt     = ".json"
	partialExt      = ".partial"
)

// FileStore lays out one folder per company under root:
//
//	<root>/<company key>/_company_info.json
//	<root>/<company key>/<escaped repo name>.json
type FileStore struct {
	root   string
	logger *log.Logger
}

// New creates the output root if needed.
func New(root string, logger *log.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", root, err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

// Root returns the output directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) companyDir(company domain.Company) string {
	key := company.Key
	if key == "" {
		key = EscapeName(string(company.Name))
	}
	return filepath.Join(s.root, key)
}

func (s *FileStore) repoPath(company domain.Company, repo string) string {
	return filepath.Join(s.companyDir(company), EscapeName(repo)+artifactExt)
}

// LoadResolution returns the stored resolution of company. A missing or
// unreadable record reports false so that the company is resolved again.
func (s *FileStore) LoadResolution(company domain.Company) (domain.ResolutionResult, bool, error) {
	path := filepath.Join(s.companyDir(company), CompanyInfoFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ResolutionResult{}, false, nil
	}
	if err != nil {
		return domain.ResolutionResult{}, false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var r domain.ResolutionResult
	if err := json.Unmarshal(data, &r); err != nil {
		s.logger.Printf("  Ignoring unreadable resolution record %s: %v", path, err)
		return domain.ResolutionResult{}, false, nil
	}
	return r, true, nil
}

// SaveResolution atomically replaces the company's resolution record.
func (s *FileStore) SaveResolution(r domain.ResolutionResult) error {
	dir := s.companyDir(r.Company)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create company directory %s: %w", dir, err)
	}
	final := filepath.Join(dir, CompanyInfoFile)
	if err := writeDurable(final+partialExt, r); err != nil {
		return err
	}
	if err := os.Rename(final+partialExt, final); err != nil {
		return fmt.Errorf("failed to rename resolution record into place: %w", err)
	}
	return syncDir(dir)
}

// IsComplete reports whether a complete artifact for repo exists. A truncated
// or undecodable file, or one naming another repository, is not complete.
func (s *FileStore) IsComplete(company domain.Company, repo string) bool {
	data, err := os.ReadFile(s.repoPath(company, repo))
	if err != nil {
		return false
	}
	var d domain.RepoDetail
	if err := json.Unmarshal(data, &d); err != nil {
		return false
	}
	return d.Name == repo
}

// WriteRepo durably writes the artifact for detail without marking it complete.
func (s *FileStore) WriteRepo(company domain.Company, detail domain.RepoDetail) error {
	dir := s.companyDir(company)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create company directory %s: %w", dir, err)
	}
	return writeDurable(s.repoPath(company, detail.Name)+partialExt, detail)
}

// MarkComplete moves a written artifact into place. It must follow WriteRepo.
func (s *FileStore) MarkComplete(company domain.Company, repo string) error {
	final := s.repoPath(company, repo)
	if err := os.Rename(final+partialExt, final); err != nil {
		return fmt.Errorf("failed to mark %s complete: %w", repo, err)
	}
	return syncDir(filepath.Dir(final))
}

// Clear removes the artifact and any partial write of repo.
func (s *FileStore) Clear(company domain.Company, repo string) error {
	final := s.repoPath(company, repo)
	for _, p := range []string{final, final + partialExt} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// Reset removes everything stored for company, including its resolution.
func (s *FileStore) Reset(company domain.Company) error {
	if err := os.RemoveAll(s.companyDir(company)); err != nil {
		return fmt.Errorf("failed to reset %s: %w", company.Input, err)
	}
	return nil
}

// EscapeName maps a repository name to a file stem. Bytes outside
// [A-Za-z0-9._-] become ~XX, and the stem reserved for the company record gets
// a leading ~. GitHub never uses ~ in names, so distinct names never collide.
func EscapeName(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "~%02X", c)
		}
	}
	stem := b.String()
	if stem == companyInfoStem {
		return "~" + stem
	}
	return stem
}

func writeDurable(path string, v any) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// syncDir flushes a rename to disk. Not every platform can fsync a directory.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("failed to sync %s: %w", dir, err)
	}
	return nil
}
