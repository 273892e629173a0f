package sessions

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/forgehq/engine/pkg/models"
)

// ErrNotHeaderEntry is returned by Branch when entries[0] is not a session
// header, which should never happen for an entry list produced by Open or
// Create.
var ErrNotHeaderEntry = errors.New("sessions: first entry is not a session header")

// Branch constructs the entry list for a new session whose history is
// entries[0..branchBeforeIndex), per §4.2.3: the header's id is replaced by
// a fresh uuid and branchedFrom is set to parentPath. It is a pure,
// idempotent function of its inputs — the parent's entries are never
// mutated, and parentPath is never opened or written.
func Branch(entries []models.SessionEntry, branchBeforeIndex int, parentPath string) ([]models.SessionEntry, error) {
	if branchBeforeIndex < 0 || branchBeforeIndex > len(entries) {
		return nil, fmt.Errorf("sessions: branch index %d out of range [0,%d]", branchBeforeIndex, len(entries))
	}
	if len(entries) == 0 || entries[0].Type != models.EntrySessionHeader || entries[0].Header == nil {
		return nil, ErrNotHeaderEntry
	}

	branched := make([]models.SessionEntry, branchBeforeIndex)
	copy(branched, entries[:branchBeforeIndex])

	originalHeader := *branched[0].Header
	newHeader := models.NewHeaderEntry(uuid.NewString(), originalHeader.Cwd, parentPath)
	branched[0] = newHeader

	return branched, nil
}

// Branch creates a new Session rooted at branchBeforeIndex of parent's
// entries. The parent file is never modified; the returned session follows
// the same lazy-flush lifecycle as one created fresh (§4.2.2), so a branch
// that is never turned leaves no file on disk.
func (s *Store) Branch(parent *Session, branchBeforeIndex int) (*Session, error) {
	parentEntries := parent.Entries()
	branched, err := Branch(parentEntries, branchBeforeIndex, parent.Path())
	if err != nil {
		return nil, err
	}

	id := branched[0].Header.ID
	cwd := branched[0].Header.Cwd
	filename := fmt.Sprintf("%d_%s.jsonl", time.Now().UnixMilli(), id)
	path := filepath.Join(s.dir(cwd), filename)

	if err := s.locker.Lock(path); err != nil {
		return nil, fmt.Errorf("sessions: acquire lock for %s: %w", path, err)
	}

	return &Session{
		store:   s,
		path:    path,
		id:      id,
		cwd:     cwd,
		entries: branched,
	}, nil
}
