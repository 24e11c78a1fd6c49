// Package store owns the model artifacts on disk: the active model, its
// history of backups, and the promotion/rollback protocol that keeps exactly
// one loadable active artifact across crashes.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"movie-dropoff/internal/model"
)

const indexName = "versions.json"

// renameFile is swapped out in tests to inject index persistence faults.
var renameFile = os.Rename

// Sentinel conditions reported by LoadActive. Both are recoverable: the
// predictor answers them by entering fallback mode, never by failing a
// request.
var (
	ErrNotFound = errors.New("no active model artifact")
	ErrUnusable = errors.New("active model artifact unusable")
)

// RejectedError reports a candidate that failed the promotion quality gate.
type RejectedError struct {
	Metrics model.Metrics
	MinF1   float64
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("candidate rejected: F1 %.3f below gate %.2f", e.Metrics.F1Score, e.MinF1)
}

// Status of a versioned artifact.
type Status string

const (
	StatusActive    Status = "active"
	StatusBackup    Status = "backup"
	StatusCandidate Status = "candidate"
	StatusRejected  Status = "rejected"
)

// Artifact is a versioned trained model plus its metadata.
type Artifact struct {
	Version         int           `json:"version"`
	Model           *model.Model  `json:"model"`
	TrainedAt       time.Time     `json:"trained_at"`
	Metrics         model.Metrics `json:"metrics"`
	Status          Status        `json:"status"`
	TrainingSamples int           `json:"training_samples"`
	NewSamples      int           `json:"new_samples"`
}

// versionRecord is the index entry for one artifact. Identity is the
// monotonic version counter; the timestamp is display metadata.
type versionRecord struct {
	Version   int           `json:"version"`
	Status    Status        `json:"status"`
	TrainedAt time.Time     `json:"trained_at"`
	Metrics   model.Metrics `json:"metrics"`
}

type index struct {
	Current       int             `json:"current"`
	LastRetrained time.Time       `json:"last_retrained"`
	Versions      []versionRecord `json:"versions"`
}

// Store manages artifacts under a single directory. All mutating operations
// are serialized on the store mutex; only one promotion can be in flight.
type Store struct {
	dir   string
	minF1 float64

	mu  sync.Mutex
	idx index
}

// Open loads or initializes an artifact store in dir. minF1 is the promotion
// quality gate.
func Open(dir string, minF1 float64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	s := &Store{dir: dir, minF1: minF1}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadActive returns the currently active artifact. ErrNotFound if no
// artifact has ever been promoted, ErrUnusable if the artifact exists but
// fails its self-test.
func (s *Store) LoadActive() (*Artifact, error) {
	s.mu.Lock()
	current := s.idx.Current
	s.mu.Unlock()

	if current == 0 {
		return nil, ErrNotFound
	}

	art, err := s.readArtifact(current)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnusable, err)
	}
	if art.Model == nil {
		return nil, fmt.Errorf("%w: artifact has no model", ErrUnusable)
	}
	if err := art.Model.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnusable, err)
	}
	return art, nil
}

// Promote installs a candidate as the active artifact. The sequence is:
// gate check, candidate file write, index write with the previous active
// re-marked as backup (current pointer unchanged), then the pointer flip.
// A crash between the two index writes leaves the previous artifact active
// and loadable.
func (s *Store) Promote(candidate *Artifact) error {
	if candidate == nil || candidate.Model == nil {
		return fmt.Errorf("nil candidate")
	}
	if err := candidate.Model.Validate(); err != nil {
		return fmt.Errorf("candidate failed self-test: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.nextVersionLocked()
	candidate.Version = version
	if candidate.TrainedAt.IsZero() {
		candidate.TrainedAt = time.Now().UTC()
	}

	if candidate.Metrics.F1Score < s.minF1 {
		candidate.Status = StatusRejected
		if err := s.writeArtifact(candidate); err != nil {
			log.Warn().Err(err).Int("version", version).Msg("failed to persist rejected candidate")
		} else {
			s.idx.Versions = append(s.idx.Versions, recordOf(candidate))
			if err := s.saveIndexLocked(); err != nil {
				log.Warn().Err(err).Msg("failed to persist index for rejected candidate")
			}
		}
		return &RejectedError{Metrics: candidate.Metrics, MinF1: s.minF1}
	}

	candidate.Status = StatusActive
	if err := s.writeArtifact(candidate); err != nil {
		return fmt.Errorf("write candidate artifact: %w", err)
	}

	previous := s.idx.Current
	rec := recordOf(candidate)
	rec.Status = StatusCandidate
	s.idx.Versions = append(s.idx.Versions, rec)
	if previous != 0 {
		s.setStatusLocked(previous, StatusBackup)
	}
	// Backup commit point: current still names the old artifact, so a crash
	// from here until the pointer flip leaves it loadable.
	if err := s.saveIndexLocked(); err != nil {
		if previous != 0 {
			s.setStatusLocked(previous, StatusActive)
		}
		s.idx.Versions = s.idx.Versions[:len(s.idx.Versions)-1]
		return fmt.Errorf("write backup record: %w", err)
	}

	prevRetrained := s.idx.LastRetrained
	s.setStatusLocked(version, StatusActive)
	s.idx.Current = version
	s.idx.LastRetrained = candidate.TrainedAt
	if err := s.saveIndexLocked(); err != nil {
		// Disk still holds the backup-state index; put memory back in step
		// with it so ActiveVersion keeps answering with the old artifact.
		s.setStatusLocked(version, StatusCandidate)
		s.idx.Current = previous
		s.idx.LastRetrained = prevRetrained
		return fmt.Errorf("install candidate: %w", err)
	}

	log.Info().
		Int("version", version).
		Int("previous", previous).
		Float64("f1", candidate.Metrics.F1Score).
		Int("training_samples", candidate.TrainingSamples).
		Msg("model promoted")
	return nil
}

// Rollback restores a backed-up version as active. The backup record is
// retained; only statuses and the current pointer change.
func (s *Store) Rollback(version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.findLocked(version)
	if target == nil {
		return fmt.Errorf("version %d: %w", version, ErrNotFound)
	}
	if target.Status != StatusBackup && target.Status != StatusActive {
		return fmt.Errorf("version %d has status %s, only backups can be restored", version, target.Status)
	}

	if prev := s.idx.Current; prev != 0 && prev != version {
		s.setStatusLocked(prev, StatusBackup)
	}
	s.setStatusLocked(version, StatusActive)
	s.idx.Current = version
	if err := s.saveIndexLocked(); err != nil {
		return fmt.Errorf("persist rollback: %w", err)
	}

	log.Info().Int("version", version).Msg("model rolled back")
	return nil
}

// ActiveVersion returns the current version number, 0 when none.
func (s *Store) ActiveVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Current
}

// LastRetrained returns the timestamp of the most recent promotion.
func (s *Store) LastRetrained() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.LastRetrained
}

// VersionInfo is the read-only view of one index entry.
type VersionInfo struct {
	Version   int           `json:"version"`
	Status    Status        `json:"status"`
	TrainedAt time.Time     `json:"trained_at"`
	Metrics   model.Metrics `json:"metrics"`
}

// Versions lists every recorded artifact, oldest first.
func (s *Store) Versions() []VersionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]VersionInfo, len(s.idx.Versions))
	for i, r := range s.idx.Versions {
		out[i] = VersionInfo(r)
	}
	return out
}

func (s *Store) nextVersionLocked() int {
	max := 0
	for _, r := range s.idx.Versions {
		if r.Version > max {
			max = r.Version
		}
	}
	return max + 1
}

func (s *Store) findLocked(version int) *versionRecord {
	for i := range s.idx.Versions {
		if s.idx.Versions[i].Version == version {
			return &s.idx.Versions[i]
		}
	}
	return nil
}

func (s *Store) setStatusLocked(version int, status Status) {
	if r := s.findLocked(version); r != nil {
		r.Status = status
	}
}

func recordOf(a *Artifact) versionRecord {
	return versionRecord{
		Version:   a.Version,
		Status:    a.Status,
		TrainedAt: a.TrainedAt,
		Metrics:   a.Metrics,
	}
}

func (s *Store) artifactPath(version int) string {
	return filepath.Join(s.dir, fmt.Sprintf("model_v%d.json", version))
}

func (s *Store) readArtifact(version int) (*Artifact, error) {
	data, err := os.ReadFile(s.artifactPath(version))
	if err != nil {
		return nil, err
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("decode artifact v%d: %w", version, err)
	}
	return &art, nil
}

// writeArtifact persists an artifact atomically: temp file in the same
// directory, then rename.
func (s *Store) writeArtifact(a *Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "artifact-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.artifactPath(a.Version))
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, indexName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read versions index: %w", err)
	}
	if err := json.Unmarshal(data, &s.idx); err != nil {
		return fmt.Errorf("decode versions index: %w", err)
	}
	return nil
}

func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.idx, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, indexName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return renameFile(tmp, path)
}
