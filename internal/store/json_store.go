// Package store implements the storage collaborators: a JSON-file content
// and state store guarded by an advisory file lock, and Redis-backed state,
// CSRF state and run-lock stores.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"videosync/storage"
)

const (
	schemaVersion = "2.0"
	lockTimeout   = 5 * time.Second
)

// labelNamespace seeds label ids for names that slugify to nothing.
var labelNamespace = uuid.MustParse("5b0f8a3e-2c61-4d0b-9a57-0c3e6f1d7a42")

// JSONStore implements storage.ContentStore and storage.StateStore using a
// single JSON file. Every mutation takes the file lock, reloads the file if
// another handle changed it, applies the change and writes the file back, so
// several processes can share one store file.
type JSONStore struct {
	path string
	lock *FileLock

	mu    sync.Mutex
	data  *storeData
	stamp os.FileInfo // file as last read or written; nil forces a reload

	mediaDir string
	client   *http.Client
	now      func() time.Time
}

// storeData is the top-level JSON structure.
type storeData struct {
	Version   string                               `json:"version"`
	UpdatedAt time.Time                            `json:"updated_at"`
	Records   map[string]*storage.Record           `json:"records"`
	Labels    map[string]map[string]*storage.Label `json:"labels"` // taxonomy -> id -> label
	Options   map[string]string                    `json:"options"`
	Indexes   *indexes                             `json:"indexes"`
}

// indexes maintains lookup tables for efficient queries.
type indexes struct {
	YouTubeVideoID map[string]string `json:"youtube_video_id"` // youtube_id -> record id
}

// Option configures a JSONStore.
type Option func(*JSONStore)

// WithMediaDir makes AttachMedia download attachment bytes into dir using client.
// Without it attachments record only their source URL.
func WithMediaDir(dir string, client *http.Client) Option {
	return func(s *JSONStore) {
		s.mediaDir = dir
		s.client = client
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *JSONStore) { s.now = now }
}

// NewJSONStore opens the JSON file store at path, creating an empty store
// file if none exists. Corrupt files are reported as ErrStorageCorrupt.
func NewJSONStore(path string, opts ...Option) (*JSONStore, error) {
	s := &JSONStore{
		path: path,
		lock: NewFileLock(path),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, &storage.StorageError{Op: "create", Entity: "store", Err: err}
	}

	err := s.write(func() (bool, error) {
		// A missing file was replaced by empty data; write it now so
		// permission problems surface at open.
		return s.stamp == nil, nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// read runs fn against the current file contents. Callers of read never
// modify s.data.
func (s *JSONStore) read(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(false); err != nil {
		return err
	}
	return fn()
}

// write runs fn under the file lock against freshly loaded data and saves
// when fn reports a change. fn must not modify s.data before returning an error.
func (s *JSONStore) write(fn func() (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(lockTimeout); err != nil {
		return err
	}
	defer s.lock.Unlock()

	if err := s.refresh(true); err != nil {
		return err
	}
	changed, err := fn()
	if err != nil || !changed {
		return err
	}
	if err := s.save(); err != nil {
		// Memory now holds an unsaved change; reload on next use.
		s.data, s.stamp = nil, nil
		return err
	}
	return nil
}

// refresh reloads the file when it differs from the copy in memory, or
// unconditionally when force is set. A missing file reads as an empty store.
func (s *JSONStore) refresh(force bool) error {
	fi, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if s.data == nil || s.stamp != nil {
			s.data, s.stamp = newStoreData(), nil
		}
		return nil
	}
	if err != nil {
		return &storage.StorageError{Op: "read", Entity: "store", Err: err}
	}
	if !force && s.data != nil && s.stamp != nil && sameVersion(s.stamp, fi) {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return &storage.StorageError{Op: "read", Entity: "store", Err: err}
	}
	data := &storeData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return &storage.StorageError{Op: "read", Entity: "store", Err: storage.ErrStorageCorrupt}
	}

	if data.Records == nil {
		data.Records = make(map[string]*storage.Record)
	}
	if data.Labels == nil {
		data.Labels = make(map[string]map[string]*storage.Label)
	}
	if data.Options == nil {
		data.Options = make(map[string]string)
	}
	if data.Indexes == nil || data.Indexes.YouTubeVideoID == nil {
		data.Indexes = rebuildIndexes(data.Records)
	}
	s.data, s.stamp = data, fi
	return nil
}

// sameVersion reports whether two stats describe the same write of the file.
// Atomic writes replace the inode, so a write by another handle normally
// shows up as a different file. Writers reload regardless, under the lock.
func sameVersion(a, b os.FileInfo) bool {
	return os.SameFile(a, b) && a.ModTime().Equal(b.ModTime()) && a.Size() == b.Size()
}

// save persists the data to disk atomically.
func (s *JSONStore) save() error {
	s.data.UpdatedAt = s.now()

	err := writeAtomic(s.path, 0600, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(s.data)
	})
	if err != nil {
		return &storage.StorageError{Op: "write", Entity: "store", Err: err}
	}
	// Without a stamp the next operation rereads what was just written.
	s.stamp, _ = os.Stat(s.path)
	return nil
}

// Close releases resources held by the store. No lock is held between
// operations, so Close only drops the cached data.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data, s.stamp = nil, nil
	return nil
}

// RunLock returns a lock file next to the store for serializing sync runs.
func (s *JSONStore) RunLock() *FileLock {
	return NewFileLock(s.path + ".run")
}

func newStoreData() *storeData {
	return &storeData{
		Version: schemaVersion,
		Records: make(map[string]*storage.Record),
		Labels:  make(map[string]map[string]*storage.Label),
		Options: make(map[string]string),
		Indexes: &indexes{YouTubeVideoID: make(map[string]string)},
	}
}

func rebuildIndexes(records map[string]*storage.Record) *indexes {
	idx := &indexes{YouTubeVideoID: make(map[string]string)}
	for id, rec := range records {
		if ytID := rec.Fields[storage.FieldYouTubeID]; rec.Kind == storage.KindVideo && ytID != "" {
			idx.YouTubeVideoID[ytID] = id
		}
	}
	return idx
}

// lookup returns the record with id or a not-found StorageError. Callers run inside read or write.
func (s *JSONStore) lookup(op, id string) (*storage.Record, error) {
	rec, ok := s.data.Records[id]
	if !ok {
		return nil, &storage.StorageError{Op: op, Entity: "record", ID: id, Err: storage.ErrNotFound}
	}
	return rec, nil
}

// --- ContentStore implementation ---

// FindByExternalID returns the local id of the video record mirroring youtubeID.
func (s *JSONStore) FindByExternalID(ctx context.Context, youtubeID string) (string, error) {
	var id string
	err := s.read(func() error {
		var ok bool
		id, ok = s.data.Indexes.YouTubeVideoID[youtubeID]
		if !ok {
			return &storage.StorageError{Op: "read", Entity: "record", ID: youtubeID, Err: storage.ErrNotFound}
		}
		if _, ok := s.data.Records[id]; !ok {
			return &storage.StorageError{Op: "read", Entity: "record", ID: id, Err: storage.ErrStorageCorrupt}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Create stores a new video record. The external id, when given, is written
// with the record and indexed in the same save.
func (s *JSONStore) Create(ctx context.Context, entry storage.Entry) (string, error) {
	if entry.Title == "" {
		return "", &storage.StorageError{Op: "create", Entity: "record", Err: storage.ErrInvalidInput}
	}

	now := s.now()
	rec := &storage.Record{
		ID:          uuid.NewString(),
		Kind:        storage.KindVideo,
		Title:       entry.Title,
		PublishedAt: entry.PublishedAt,
		Fields:      make(map[string]string),
		Labels:      make(map[string][]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if entry.Description != nil {
		rec.Description = *entry.Description
	}

	err := s.write(func() (bool, error) {
		if entry.ExternalID != "" {
			if existing, ok := s.data.Indexes.YouTubeVideoID[entry.ExternalID]; ok {
				if _, ok := s.data.Records[existing]; ok {
					return false, &storage.StorageError{Op: "create", Entity: "record", ID: entry.ExternalID, Err: storage.ErrAlreadyExists}
				}
			}
			rec.Fields[storage.FieldYouTubeID] = entry.ExternalID
			s.data.Indexes.YouTubeVideoID[entry.ExternalID] = rec.ID
		}
		s.data.Records[rec.ID] = rec
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Update rewrites the title, body and publish date of a record. Zero values
// leave the stored value in place; a nil Description keeps the body.
func (s *JSONStore) Update(ctx context.Context, id string, entry storage.Entry) error {
	return s.write(func() (bool, error) {
		rec, err := s.lookup("update", id)
		if err != nil {
			return false, err
		}

		if entry.Title != "" {
			rec.Title = entry.Title
		}
		if entry.Description != nil {
			rec.Description = *entry.Description
		}
		if !entry.PublishedAt.IsZero() {
			rec.PublishedAt = entry.PublishedAt
		}
		rec.UpdatedAt = s.now()
		return true, nil
	})
}

// GetField returns a side field of a record or attachment.
func (s *JSONStore) GetField(ctx context.Context, id, name string) (string, error) {
	var v string
	err := s.read(func() error {
		rec, err := s.lookup("read", id)
		if err != nil {
			return err
		}
		v = rec.Fields[name]
		return nil
	})
	return v, err
}

// SetField writes a side field. Writing the YouTube id field also indexes it.
func (s *JSONStore) SetField(ctx context.Context, id, name, value string) error {
	return s.write(func() (bool, error) {
		rec, err := s.lookup("update", id)
		if err != nil {
			return false, err
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]string)
		}
		if v, ok := rec.Fields[name]; ok && v == value {
			return false, nil
		}
		rec.Fields[name] = value
		rec.UpdatedAt = s.now()

		if name == storage.FieldYouTubeID && rec.Kind == storage.KindVideo {
			s.data.Indexes.YouTubeVideoID[value] = id
		}
		return true, nil
	})
}

// Record returns a copy of the record with id. It is not part of
// storage.ContentStore and serves inspection from the CLI and tests.
func (s *JSONStore) Record(ctx context.Context, id string) (*storage.Record, error) {
	var out *storage.Record
	err := s.read(func() error {
		rec, err := s.lookup("read", id)
		if err != nil {
			return err
		}
		out = cloneRecord(rec)
		return nil
	})
	return out, err
}

// ListVideos returns all video records ordered by publish date, newest first.
func (s *JSONStore) ListVideos(ctx context.Context) ([]*storage.Record, error) {
	var out []*storage.Record
	err := s.read(func() error {
		for _, rec := range s.data.Records {
			if rec.Kind == storage.KindVideo {
				out = append(out, cloneRecord(rec))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	return out, nil
}

// AttachMedia records sourceURL as an attachment of id, downloading it into
// the media directory when one is configured. The download runs outside the
// file lock.
func (s *JSONStore) AttachMedia(ctx context.Context, id, sourceURL string) (string, error) {
	if sourceURL == "" {
		return "", &storage.StorageError{Op: "attach", Entity: "media", ID: id, Err: storage.ErrInvalidInput}
	}

	err := s.read(func() error {
		_, err := s.lookup("attach", id)
		return err
	})
	if err != nil {
		return "", err
	}

	mediaID := uuid.NewString()
	var file string
	if s.mediaDir != "" {
		file, err = s.download(ctx, mediaID, sourceURL)
		if err != nil {
			return "", &storage.StorageError{Op: "attach", Entity: "media", ID: id, Err: err}
		}
	}

	now := s.now()
	err = s.write(func() (bool, error) {
		if _, err := s.lookup("attach", id); err != nil {
			return false, err
		}
		s.data.Records[mediaID] = &storage.Record{
			ID:        mediaID,
			Kind:      storage.KindAttachment,
			ParentID:  id,
			Title:     path.Base(sourceURL),
			SourceURL: sourceURL,
			Path:      file,
			Fields:    make(map[string]string),
			CreatedAt: now,
			UpdatedAt: now,
		}
		return true, nil
	})
	if err != nil {
		if file != "" {
			os.Remove(file)
		}
		return "", err
	}
	return mediaID, nil
}

// download writes the body at sourceURL into the media directory.
func (s *JSONStore) download(ctx context.Context, mediaID, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}

	ext := filepath.Ext(path.Base(req.URL.Path))
	if ext == "" {
		ext = ".jpg"
	}
	target := filepath.Join(s.mediaDir, mediaID+ext)

	err = writeAtomic(target, 0644, func(w io.Writer) error {
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("write media: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

// FeaturedMedia returns the featured attachment id of a record.
func (s *JSONStore) FeaturedMedia(ctx context.Context, id string) (string, error) {
	var mediaID string
	err := s.read(func() error {
		rec, err := s.lookup("read", id)
		if err != nil {
			return err
		}
		mediaID = rec.FeaturedMediaID
		return nil
	})
	return mediaID, err
}

// SetFeaturedMedia makes mediaID, which must exist, the featured attachment of id.
func (s *JSONStore) SetFeaturedMedia(ctx context.Context, id, mediaID string) error {
	return s.write(func() (bool, error) {
		rec, err := s.lookup("update", id)
		if err != nil {
			return false, err
		}
		if _, err := s.lookup("update", mediaID); err != nil {
			return false, err
		}
		rec.FeaturedMediaID = mediaID
		rec.UpdatedAt = s.now()
		return true, nil
	})
}

// labelID derives a stable label id from name: its slug, or for names with
// nothing to slugify (emoji, punctuation) a name-based UUID prefix.
func labelID(name string) string {
	if id := slug.Make(name); id != "" {
		return id
	}
	return "label-" + uuid.NewSHA1(labelNamespace, []byte(name)).String()[:8]
}

// EnsureLabel returns the id of the named label in taxonomy, creating it if
// missing. Blank names are rejected with ErrInvalidInput.
func (s *JSONStore) EnsureLabel(ctx context.Context, taxonomy storage.Taxonomy, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", &storage.StorageError{Op: "create", Entity: "label", ID: name, Err: storage.ErrInvalidInput}
	}
	id := labelID(name)

	err := s.write(func() (bool, error) {
		terms, ok := s.data.Labels[taxonomy.Name]
		if !ok {
			terms = make(map[string]*storage.Label)
			s.data.Labels[taxonomy.Name] = terms
		}
		if _, exists := terms[id]; exists {
			return false, nil
		}
		terms[id] = &storage.Label{ID: id, Taxonomy: taxonomy.Name, Name: name}
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// AssignLabels replaces the labels of id in taxonomy. Every label must exist.
func (s *JSONStore) AssignLabels(ctx context.Context, id string, taxonomy storage.Taxonomy, labelIDs []string) error {
	return s.write(func() (bool, error) {
		rec, err := s.lookup("update", id)
		if err != nil {
			return false, err
		}
		terms := s.data.Labels[taxonomy.Name]
		for _, labelID := range labelIDs {
			if _, ok := terms[labelID]; !ok {
				return false, &storage.StorageError{Op: "assign", Entity: "label", ID: labelID, Err: storage.ErrNotFound}
			}
		}

		if rec.Labels == nil {
			rec.Labels = make(map[string][]string)
		}
		rec.Labels[taxonomy.Name] = append([]string(nil), labelIDs...)
		rec.UpdatedAt = s.now()
		return true, nil
	})
}

// Labels returns the label names assigned to a record in taxonomy.
func (s *JSONStore) Labels(ctx context.Context, id string, taxonomy storage.Taxonomy) ([]string, error) {
	var names []string
	err := s.read(func() error {
		rec, err := s.lookup("read", id)
		if err != nil {
			return err
		}
		for _, labelID := range rec.Labels[taxonomy.Name] {
			if l, ok := s.data.Labels[taxonomy.Name][labelID]; ok {
				names = append(names, l.Name)
			}
		}
		return nil
	})
	return names, err
}

func cloneRecord(rec *storage.Record) *storage.Record {
	cp := *rec
	cp.Fields = make(map[string]string, len(rec.Fields))
	for k, v := range rec.Fields {
		cp.Fields[k] = v
	}
	cp.Labels = make(map[string][]string, len(rec.Labels))
	for k, v := range rec.Labels {
		cp.Labels[k] = append([]string(nil), v...)
	}
	return &cp
}

// --- StateStore implementation ---

// Get returns the option stored under key.
func (s *JSONStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := s.read(func() error {
		v, ok = s.data.Options[key]
		return nil
	})
	return v, ok, err
}

// Set stores an option.
func (s *JSONStore) Set(ctx context.Context, key, value string) error {
	return s.write(func() (bool, error) {
		if old, ok := s.data.Options[key]; ok && old == value {
			return false, nil
		}
		s.data.Options[key] = value
		return true, nil
	})
}

// Delete removes options. Missing keys are ignored.
func (s *JSONStore) Delete(ctx context.Context, keys ...string) error {
	return s.write(func() (bool, error) {
		changed := false
		for _, key := range keys {
			if _, ok := s.data.Options[key]; ok {
				delete(s.data.Options, key)
				changed = true
			}
		}
		return changed, nil
	})
}
