package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fresco-hpc/fresco-etl/common"
)

const (
	statusFile  = "status.json"
	versionFile = "version_info.json"
)

// statusRecord is the on-disk shape of status.json. The layout is consumed
// by external tooling; field names and types are frozen.
type statusRecord struct {
	ProcessedFolders   []string `json:"processed_folders"`
	FailedFolders      []string `json:"failed_folders"`
	LastProcessedIndex int      `json:"last_processed_index"`
	LastUpdated        string   `json:"last_updated"`
}

// State is the persisted pipeline progress, saved atomically after every
// mutation so a crash never loses a completed folder. version_info.json
// maps each folder name to the number of times it has been processed.
type State struct {
	dir      string
	mu       sync.Mutex
	status   statusRecord
	versions map[string]int
}

// LoadState reads prior state from dir, starting fresh when none exists.
func LoadState(dir string) (*State, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, common.NewError(common.EErrorKind.State(), err)
	}
	s := &State{dir: dir, versions: make(map[string]int)}

	if err := common.LoadJSON(filepath.Join(dir, statusFile), &s.status); err != nil && !os.IsNotExist(err) {
		return nil, common.WrapError(common.EErrorKind.State(), err, "status file corrupt")
	}
	if err := common.LoadJSON(filepath.Join(dir, versionFile), &s.versions); err != nil && !os.IsNotExist(err) {
		return nil, common.WrapError(common.EErrorKind.State(), err, "version file corrupt")
	}
	if s.versions == nil {
		s.versions = make(map[string]int)
	}
	return s, nil
}

// BeginRun stamps the start of a run.
func (s *State) BeginRun() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.save()
}

// IsProcessed reports whether folder completed in a prior run.
func (s *State) IsProcessed(folder string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return containsString(s.status.ProcessedFolders, folder)
}

// MarkProcessed records folder as done, clears any failure entry, and bumps
// the folder's processing count in version_info.json.
func (s *State) MarkProcessed(folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !containsString(s.status.ProcessedFolders, folder) {
		s.status.ProcessedFolders = append(s.status.ProcessedFolders, folder)
		sort.Strings(s.status.ProcessedFolders)
	}
	s.status.FailedFolders = removeString(s.status.FailedFolders, folder)
	s.status.LastProcessedIndex = sort.SearchStrings(s.status.ProcessedFolders, folder)
	s.versions[folder]++
	s.touch()
	return s.save()
}

// MarkFailed records folder among the failed set.
func (s *State) MarkFailed(folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !containsString(s.status.FailedFolders, folder) {
		s.status.FailedFolders = append(s.status.FailedFolders, folder)
		sort.Strings(s.status.FailedFolders)
	}
	s.touch()
	return s.save()
}

// FailedFolders returns a sorted snapshot of folders that last failed.
func (s *State) FailedFolders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.status.FailedFolders))
	copy(out, s.status.FailedFolders)
	return out
}

// FolderVersion reports how many times folder has been processed.
func (s *State) FolderVersion(folder string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[folder]
}

func (s *State) touch() {
	s.status.LastUpdated = time.Now().UTC().Format(time.RFC3339)
}

func (s *State) save() error {
	if err := common.SaveJSONAtomic(filepath.Join(s.dir, statusFile), &s.status); err != nil {
		return common.WrapError(common.EErrorKind.State(), err, "status save")
	}
	if err := common.SaveJSONAtomic(filepath.Join(s.dir, versionFile), s.versions); err != nil {
		return common.WrapError(common.EErrorKind.State(), err, "version save")
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
