package appstate

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/inkwell/vellum/pkg/eventbus"
)

// Store holds the live project state pushed by the editor frontend. It is
// the single writable copy; everything else reads immutable snapshots.
// Mutations publish the matching bus event.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	bus  *eventbus.Bus
}

// NewStore creates a store publishing mutations to the given bus. A nil bus
// disables event publication.
func NewStore(bus *eventbus.Bus) *Store {
	return &Store{bus: bus}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Update replaces the whole state, as when the editor pushes a full sync.
func (s *Store) Update(snap Snapshot) {
	s.mu.Lock()
	prevChapter := s.snap.Manuscript.ActiveChapterID
	snap.TakenAt = time.Now()
	s.snap = snap
	s.mu.Unlock()

	if snap.Manuscript.ActiveChapterID != prevChapter {
		if ch := snap.Manuscript.ActiveChapter(); ch != nil {
			s.publish(eventbus.ChapterSwitched, map[string]interface{}{
				"chapter_id": ch.ID,
				"title":      ch.Title,
			})
		}
	}
}

// ReplaceInActiveChapter replaces every occurrence of search in the active
// chapter's text and returns the occurrence count. Zero occurrences is not
// an error here; callers decide how to surface it.
func (s *Store) ReplaceInActiveChapter(search, replace string) (int, error) {
	if search == "" {
		return 0, fmt.Errorf("search text is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.snap.Manuscript.ActiveChapter()
	if active == nil {
		return 0, fmt.Errorf("no active chapter")
	}

	count := strings.Count(active.Text, search)
	if count == 0 {
		return 0, nil
	}

	active.Text = strings.ReplaceAll(active.Text, search, replace)
	active.WordCount = len(strings.Fields(active.Text))
	s.snap.TakenAt = time.Now()

	return count, nil
}

// SwitchToChapter activates the chapter with the given title.
func (s *Store) SwitchToChapter(title string) error {
	s.mu.Lock()

	var target *Chapter
	for i := range s.snap.Manuscript.Chapters {
		if strings.EqualFold(s.snap.Manuscript.Chapters[i].Title, title) {
			target = &s.snap.Manuscript.Chapters[i]
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return fmt.Errorf("no chapter titled %q", title)
	}

	s.snap.Manuscript.ActiveChapterID = target.ID
	s.snap.TakenAt = time.Now()
	id, chTitle := target.ID, target.Title
	s.mu.Unlock()

	s.publish(eventbus.ChapterSwitched, map[string]interface{}{
		"chapter_id": id,
		"title":      chTitle,
	})

	return nil
}

// SetSelection records the editor's current selection.
func (s *Store) SetSelection(sel Selection) {
	s.mu.Lock()
	s.snap.Selection = sel
	s.mu.Unlock()

	s.publish(eventbus.SelectionChanged, map[string]interface{}{
		"length": len(sel.Text),
	})
}

// SetAnalysis installs a fresh analysis result.
func (s *Store) SetAnalysis(result AnalysisResult) {
	s.mu.Lock()
	s.snap.Analysis = &result
	s.mu.Unlock()

	s.publish(eventbus.AnalysisCompleted, map[string]interface{}{
		"analysis_id": result.ID,
	})
}

// QueryLore returns lore entries whose name or summary matches the query,
// case-insensitively.
func (s *Store) QueryLore(query string) []LoreEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var matches []LoreEntry
	for _, entry := range s.snap.Lore {
		if strings.Contains(strings.ToLower(entry.Name), q) ||
			strings.Contains(strings.ToLower(entry.Summary), q) {
			matches = append(matches, entry)
		}
	}
	return matches
}

// AppendMemoryNote mirrors a freshly created memory into the snapshot so
// the next context assembly can include it.
func (s *Store) AppendMemoryNote(content string) {
	s.mu.Lock()
	s.snap.MemoryNotes = append(s.snap.MemoryNotes, content)
	s.mu.Unlock()
}

func (s *Store) publish(t eventbus.EventType, payload map[string]interface{}) {
	if s.bus != nil {
		s.bus.PublishType(t, payload)
	}
}

// copyLocked deep-copies the slices so snapshot holders never observe
// later mutations. Caller holds at least a read lock.
func (s *Store) copyLocked() Snapshot {
	snap := s.snap

	snap.Manuscript.Chapters = append([]Chapter(nil), s.snap.Manuscript.Chapters...)
	snap.Lore = append([]LoreEntry(nil), s.snap.Lore...)
	snap.MemoryNotes = append([]string(nil), s.snap.MemoryNotes...)
	if s.snap.Analysis != nil {
		analysis := *s.snap.Analysis
		snap.Analysis = &analysis
	}

	return snap
}
