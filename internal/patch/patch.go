package patch

import (
	"encoding/json"
	"time"
)

// Patch records the file changes made by one plan step.
type Patch struct {
	PlanID      string    `json:"planId"`
	StepID      string    `json:"stepId"`
	StepKind    string    `json:"stepKind"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description,omitempty"`

	Files []FilePatch `json:"files"`

	FilesChanged int `json:"filesChanged"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

// FilePatch represents changes to a single file
type FilePatch struct {
	Path   string     `json:"path"`
	Status FileStatus `json:"status"`

	OldContent string `json:"oldContent,omitempty"` // For rollback
	NewContent string `json:"newContent,omitempty"` // For forward application
	Diff       string `json:"diff"`                 // Unified diff format

	Insertions int `json:"insertions"`
	Deletions  int `json:"deletions"`
}

// FileStatus represents the type of change to a file
type FileStatus string

const (
	FileStatusAdded    FileStatus = "added"
	FileStatusModified FileStatus = "modified"
	FileStatusDeleted  FileStatus = "deleted"
)

// ToJSON converts patch to JSON
func (p *Patch) ToJSON() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// FromJSON parses a patch from JSON
func FromJSON(data []byte) (*Patch, error) {
	var patch Patch
	if err := json.Unmarshal(data, &patch); err != nil {
		return nil, err
	}
	return &patch, nil
}

// IsEmpty returns true if the patch contains no changes
func (p *Patch) IsEmpty() bool {
	return len(p.Files) == 0
}

// Add appends fp and refreshes the statistics.
func (p *Patch) Add(fp FilePatch) {
	p.Files = append(p.Files, fp)
	p.CalculateStats()
}

// CalculateStats updates the patch statistics from file patches
func (p *Patch) CalculateStats() {
	p.FilesChanged = len(p.Files)
	p.Insertions = 0
	p.Deletions = 0

	for _, filePatch := range p.Files {
		p.Insertions += filePatch.Insertions
		p.Deletions += filePatch.Deletions
	}
}

// Summarize totals a set of file patches.
func Summarize(files []FilePatch) (changed, insertions, deletions int) {
	p := Patch{Files: files}
	p.CalculateStats()
	return p.FilesChanged, p.Insertions, p.Deletions
}
