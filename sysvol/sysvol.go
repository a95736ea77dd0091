// Package sysvol writes the file half of a policy: the preference document,
// the version counter, and the registry policy guard under the domain's
// Policies share.
package sysvol

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/DMoenks/group-policy-drive-maps/logger"
)

var versionPattern = regexp.MustCompile(`(?i)version=(\d+)`)

// Store is rooted at the Policies folder of a SYSVOL replica, for example
// \\corp.local\SYSVOL\corp.local\Policies. All writes are staged as .tmp
// siblings first and only land on Promote, so a failed run leaves the
// previous artifacts untouched.
type Store struct {
	root    string
	pending []string
}

// New opens a store over an existing Policies folder.
func New(root string) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("could not open policies folder %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policies path %s is not a folder", root)
	}
	return &Store{root: root}, nil
}

func (s *Store) policyDir(guid string) string {
	return filepath.Join(s.root, guid)
}

func (s *Store) gptIniPath(guid string) string {
	return filepath.Join(s.policyDir(guid), "GPT.INI")
}

func (s *Store) drivesPath(guid string) string {
	return filepath.Join(s.policyDir(guid), "User", "Preferences", "Drives", "Drives.xml")
}

func (s *Store) registryPolPath(guid string) string {
	return filepath.Join(s.policyDir(guid), "Machine", "Registry.pol")
}

// isWithin guards every write against path components escaping the store
// root, such as a GUID containing separators.
func (s *Store) isWithin(path string) bool {
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CreatePolicyFolders lays out the folder skeleton of a freshly created
// policy.
func (s *Store) CreatePolicyFolders(guid string) error {
	for _, dir := range []string{
		filepath.Join(s.policyDir(guid), "User"),
		filepath.Join(s.policyDir(guid), "Machine"),
	} {
		if !s.isWithin(dir) {
			return fmt.Errorf("policy folder %s escapes the store root", dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("could not create policy folder %s: %w", dir, err)
		}
	}
	return nil
}

// ReadGPTINI returns the raw GPT.INI content. A missing file reads as empty,
// which the version logic treats as an unversioned policy.
func (s *Store) ReadGPTINI(guid string) (string, error) {
	content, err := os.ReadFile(s.gptIniPath(guid))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("could not read GPT.INI of %s: %w", guid, err)
	}
	return string(content), nil
}

// RenderGPTINI produces the file content for the given counter value. An
// existing file keeps its other lines; only the version line is replaced.
func RenderGPTINI(existing string, version uint32, displayName string) string {
	rendered := strconv.FormatUint(uint64(version), 10)
	if versionPattern.MatchString(existing) {
		return versionPattern.ReplaceAllString(existing, "Version="+rendered)
	}
	return fmt.Sprintf("[General]\r\nVersion=%s\r\ndisplayName=%s\r\n", rendered, displayName)
}

// StageDriveMaps stages the preference document for Promote.
func (s *Store) StageDriveMaps(guid string, content []byte) error {
	return s.stage(s.drivesPath(guid), content)
}

// StageGPTINI stages the version counter file for Promote.
func (s *Store) StageGPTINI(guid string, content []byte) error {
	return s.stage(s.gptIniPath(guid), content)
}

func (s *Store) stage(path string, content []byte) error {
	if !s.isWithin(path) {
		return fmt.Errorf("path %s escapes the store root", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create folder for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("could not stage %s: %w", path, err)
	}
	s.pending = append(s.pending, path)
	return nil
}

// Promote moves every staged file over its final name. The preference
// document lands before the version counter, so a consumer never sees a new
// counter pointing at the old document.
func (s *Store) Promote() error {
	for _, path := range s.pending {
		if err := os.Rename(path+".tmp", path); err != nil {
			return fmt.Errorf("could not promote %s: %w", path, err)
		}
		logger.Debugf("Promoted %s", path)
	}
	s.pending = nil
	return nil
}

// Discard removes the staged files of an abandoned run.
func (s *Store) Discard() {
	for _, path := range s.pending {
		if err := os.Remove(path + ".tmp"); err != nil && !os.IsNotExist(err) {
			logger.Warnf("Could not discard staged file %s: %v", path, err)
		}
	}
	s.pending = nil
}

// Backup copies the current preference document to a timestamped sibling.
// It returns the backup path, or an empty string when there is nothing to
// back up.
func (s *Store) Backup(guid string) (string, error) {
	path := s.drivesPath(guid)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("could not read %s for backup: %w", path, err)
	}
	backup := fmt.Sprintf("%s.%s.bak", path, time.Now().UTC().Format("20060102-150405"))
	if err := os.WriteFile(backup, content, 0o644); err != nil {
		return "", fmt.Errorf("could not write backup %s: %w", backup, err)
	}
	return backup, nil
}
