package processing

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WorkDirName is the directory under the upload dir that holds in-flight
// requests. The sweeper leaves it alone except for abandoned workspaces.
const WorkDirName = ".work"

// Workspace is a per-request scratch directory. Artifacts are produced in it
// and renamed into the upload dir only once the request has succeeded.
type Workspace struct {
	ID        uuid.UUID
	Dir       string
	uploadDir string
	promoted  []promotion
}

// promotion is one file moved into the upload dir. backup holds the file it
// replaced, parked inside the workspace until the request commits.
type promotion struct {
	dst    string
	backup string
}

func NewWorkspace(uploadDir string) (*Workspace, error) {
	id := uuid.New()
	dir := filepath.Join(uploadDir, WorkDirName, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{ID: id, Dir: dir, uploadDir: uploadDir}, nil
}

// Path returns the in-workspace path for name.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Promote moves name from the workspace into the upload dir. A file of the
// same name already there is set aside in the workspace, so Discard can put
// it back and Remove drops it.
func (w *Workspace) Promote(name string) (string, error) {
	p := promotion{dst: filepath.Join(w.uploadDir, name)}
	if _, err := os.Lstat(p.dst); err == nil {
		p.backup = w.Path(".replaced-" + name)
		if err := os.Rename(p.dst, p.backup); err != nil {
			return "", fmt.Errorf("set aside %s: %w", name, err)
		}
	}
	if err := os.Rename(w.Path(name), p.dst); err != nil {
		if p.backup != "" {
			_ = os.Rename(p.backup, p.dst)
		}
		return "", fmt.Errorf("promote %s: %w", name, err)
	}
	w.promoted = append(w.promoted, p)
	return p.dst, nil
}

// Remove deletes the workspace directory and everything left in it.
func (w *Workspace) Remove() error {
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// Discard undoes every promotion, restoring replaced files, and removes the
// workspace.
func (w *Workspace) Discard() error {
	for i := len(w.promoted) - 1; i >= 0; i-- {
		p := w.promoted[i]
		if err := os.Remove(p.dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove promoted %s: %w", p.dst, err)
		}
		if p.backup != "" {
			if err := os.Rename(p.backup, p.dst); err != nil {
				return fmt.Errorf("restore %s: %w", p.dst, err)
			}
		}
	}
	w.promoted = nil
	return w.Remove()
}
