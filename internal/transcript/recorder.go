package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kong/kaictl/internal/event"
)

const (
	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600

	MetadataFileName = "metadata.json"
	FramesFileName   = "frames.jsonl"
)

// Options describe the properties known at the time a recorder is created.
type Options struct {
	Kind           event.Kind
	Mode           string
	SessionCreated time.Time
	CLIVersion     string
}

// Metadata captures high-level information about a recorded session.
type Metadata struct {
	SessionID        string     `json:"session_id"`
	Kind             event.Kind `json:"kind"`
	Mode             string     `json:"mode,omitempty"`
	SessionCreatedAt *time.Time `json:"session_created_at,omitempty"`
	RecorderCreated  time.Time  `json:"recorder_created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	FrameCount       int64      `json:"frame_count"`
	CLIVersion       string     `json:"cli_version,omitempty"`
}

// Line is one record of frames.jsonl.
type Line struct {
	Sequence int64       `json:"sequence"`
	Frame    event.Frame `json:"frame"`
}

// Recorder appends every frame received on a session stream to disk so the
// session can be replayed offline.
type Recorder struct {
	dir        string
	metaPath   string
	framesPath string
	now        func() time.Time

	mu       sync.Mutex
	metadata Metadata
}

// NewRecorder creates or reopens the recording of sessionID under baseDir.
func NewRecorder(baseDir, sessionID string, opts Options) (*Recorder, error) {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return nil, errors.New("session id cannot be empty")
	}
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("transcript directory cannot be empty")
	}

	dir := filepath.Join(os.ExpandEnv(baseDir), sanitizeComponent(trimmed))
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	r := &Recorder{
		dir:        dir,
		metaPath:   filepath.Join(dir, MetadataFileName),
		framesPath: filepath.Join(dir, FramesFileName),
		now:        time.Now,
	}

	meta, err := readMetadata(r.metaPath)
	if err != nil {
		return nil, err
	}
	if meta.SessionID == "" {
		meta.SessionID = trimmed
	}
	if meta.RecorderCreated.IsZero() {
		meta.RecorderCreated = r.now().UTC()
	}
	if opts.Kind != "" {
		meta.Kind = opts.Kind
	}
	if opts.Mode != "" {
		meta.Mode = opts.Mode
	}
	if !opts.SessionCreated.IsZero() {
		created := opts.SessionCreated.UTC()
		meta.SessionCreatedAt = &created
	}
	if v := strings.TrimSpace(opts.CLIVersion); v != "" {
		meta.CLIVersion = v
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = meta.RecorderCreated
	}

	r.metadata = meta
	if err := r.saveMetadataLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// Directory exposes the path of the recording.
func (r *Recorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Metadata returns the current metadata.
func (r *Recorder) Metadata() Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadata
}

// Record appends f to the transcript and updates metadata.
func (r *Recorder) Record(f event.Frame) error {
	if r == nil {
		return nil
	}
	if f.Type == "" {
		return errors.New("frame type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = r.now()
	}
	f.ReceivedAt = f.ReceivedAt.UTC()

	line := Line{Sequence: r.metadata.FrameCount + 1, Frame: f}
	payload, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := appendLine(r.framesPath, payload); err != nil {
		return err
	}

	r.metadata.FrameCount = line.Sequence
	r.metadata.UpdatedAt = f.ReceivedAt
	return r.saveMetadataLocked()
}

func readMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func (r *Recorder) saveMetadataLocked() error {
	raw, err := json.MarshalIndent(r.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return writeAtomic(r.metaPath, raw, defaultFilePerm)
}

func appendLine(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

func writeAtomic(path string, payload []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp metadata: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(payload); err != nil {
		return fmt.Errorf("write temp metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp metadata: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace metadata: %w", err)
	}
	return nil
}

func sanitizeComponent(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if out := strings.Trim(b.String(), "_"); out != "" {
		return out
	}
	return "session"
}
