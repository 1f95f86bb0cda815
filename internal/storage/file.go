package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Kxd395/DoseTap-sub000/internal"
)

type FileStorage struct {
	sessions     map[string]*internal.SessionFacts      // sessionKey -> facts
	entries      map[string]*internal.MedicationEntry   // id -> entry
	entryIndex   map[string][]*internal.MedicationEntry // sessionDate -> entries (sorted descending by TakenAt)
	mu           sync.RWMutex
	sessionsFile string
	entriesFile  string

	saveSessionsChan chan struct{}
	saveEntriesChan  chan struct{}
	shutdownChan     chan struct{}
	saveDelay        time.Duration
	logger           internal.Logger
}

func NewFileStorage(sessionsFile, entriesFile string, logger internal.Logger) (*FileStorage, error) {
	s := &FileStorage{
		sessions:         make(map[string]*internal.SessionFacts),
		entries:          make(map[string]*internal.MedicationEntry),
		entryIndex:       make(map[string][]*internal.MedicationEntry),
		sessionsFile:     sessionsFile,
		entriesFile:      entriesFile,
		saveSessionsChan: make(chan struct{}, 1),
		saveEntriesChan:  make(chan struct{}, 1),
		shutdownChan:     make(chan struct{}),
		saveDelay:        500 * time.Millisecond,
		logger:           logger,
	}

	if err := s.loadSessions(); err != nil {
		logger.Errorf("storage: failed to load sessions: %v", err)
		return nil, err
	}
	if err := s.loadEntries(); err != nil {
		logger.Errorf("storage: failed to load medication entries: %v", err)
		return nil, err
	}

	go s.saveWorker(s.saveSessionsChan, s.saveSessions, "sessions")
	go s.saveWorker(s.saveEntriesChan, s.saveEntries, "medication entries")

	return s, nil
}

func (s *FileStorage) loadSessions() error {
	file, err := os.Open(s.sessionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	var sessions []*internal.SessionFacts
	if err := json.NewDecoder(file).Decode(&sessions); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range sessions {
		s.sessions[f.SessionKey] = f
	}
	return nil
}

func (s *FileStorage) loadEntries() error {
	file, err := os.Open(s.entriesFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	var entries []*internal.MedicationEntry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.ID] = e
		s.entryIndex[e.SessionDate] = append(s.entryIndex[e.SessionDate], e)
	}

	for date := range s.entryIndex {
		sort.Slice(s.entryIndex[date], func(i, j int) bool {
			return s.entryIndex[date][i].TakenAt.After(s.entryIndex[date][j].TakenAt)
		})
	}

	return nil
}

func atomicWriteFileJSON(filePath string, data interface{}) error {
	tempFile := filePath + ".tmp"
	f, err := os.Create(tempFile)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		f.Close()
		os.Remove(tempFile)
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempFile)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tempFile)
		return err
	}

	return os.Rename(tempFile, filePath)
}

func (s *FileStorage) saveSessions() error {
	s.mu.RLock()
	sessions := make([]*internal.SessionFacts, 0, len(s.sessions))
	for _, f := range s.sessions {
		sessions = append(sessions, f)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SessionKey > sessions[j].SessionKey
	})
	return atomicWriteFileJSON(s.sessionsFile, sessions)
}

func (s *FileStorage) saveEntries() error {
	s.mu.RLock()
	entries := make([]*internal.MedicationEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	return atomicWriteFileJSON(s.entriesFile, entries)
}

// saveWorker batches save requests to avoid a disk write per mutation.
func (s *FileStorage) saveWorker(kick <-chan struct{}, save func() error, what string) {
	timer := time.NewTimer(s.saveDelay)
	defer timer.Stop()

	for {
		select {
		case <-kick:
			timer.Reset(s.saveDelay)
		case <-timer.C:
			if err := save(); err != nil {
				s.logger.Errorf("storage: error saving %s: %v", what, err)
			}
		case <-s.shutdownChan:
			return
		}
	}
}

func (s *FileStorage) Close() error {
	close(s.shutdownChan)

	// Flush pending data synchronously on shutdown.
	if err := s.saveSessions(); err != nil {
		return err
	}
	if err := s.saveEntries(); err != nil {
		return err
	}
	return nil
}

// --- SessionRepository ---

func (s *FileStorage) SaveSession(ctx context.Context, facts *internal.SessionFacts) error {
	if facts.SessionKey == "" {
		return errors.New("storage: session key is required")
	}
	s.mu.Lock()
	cp := *facts
	s.sessions[facts.SessionKey] = &cp
	s.mu.Unlock()

	select {
	case s.saveSessionsChan <- struct{}{}:
	default:
	}
	return nil
}

func (s *FileStorage) LoadSession(ctx context.Context, sessionKey string) (*internal.SessionFacts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.sessions[sessionKey]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (s *FileStorage) DeleteSession(ctx context.Context, sessionKey string) error {
	s.mu.Lock()
	delete(s.sessions, sessionKey)
	s.mu.Unlock()

	select {
	case s.saveSessionsChan <- struct{}{}:
	default:
	}
	return nil
}

func (s *FileStorage) ListRecentKeys(ctx context.Context, n int) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys, nil
}

// --- MedicationRepository ---

func (s *FileStorage) SaveEntry(ctx context.Context, entry *internal.MedicationEntry) error {
	s.mu.Lock()
	cp := *entry
	s.entries[entry.ID] = &cp

	entries := s.entryIndex[entry.SessionDate]
	inserted := false
	for i, existing := range entries {
		if existing.TakenAt.Before(entry.TakenAt) {
			entries = append(entries[:i], append([]*internal.MedicationEntry{&cp}, entries[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		entries = append(entries, &cp)
	}
	s.entryIndex[entry.SessionDate] = entries
	s.mu.Unlock()

	select {
	case s.saveEntriesChan <- struct{}{}:
	default:
	}
	return nil
}

func (s *FileStorage) ListEntries(ctx context.Context, sessionDate string) ([]internal.MedicationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ptrs, ok := s.entryIndex[sessionDate]
	if !ok {
		return []internal.MedicationEntry{}, nil
	}
	entries := make([]internal.MedicationEntry, len(ptrs))
	for i, e := range ptrs {
		entries[i] = *e
	}
	return entries, nil
}

// --- Compile-time assertions ---
var _ SessionRepository = (*FileStorage)(nil)
var _ MedicationRepository = (*FileStorage)(nil)
