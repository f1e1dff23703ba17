package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kong/kaictl/internal/event"
	"sigs.k8s.io/yaml"
)

const maxLineSize = 4 * 1024 * 1024

// Script is a sequence of frames to replay against a fresh session.
type Script struct {
	SessionID string        `json:"sessionId,omitempty"`
	Kind      event.Kind    `json:"kind,omitempty"`
	Mode      string        `json:"mode,omitempty"`
	Frames    []event.Frame `json:"frames"`
}

// Load reads a script from path. A directory or a .jsonl file is read as a
// recording, with metadata.json next to it when present; .yaml, .yml and
// .json files are read as hand-written frame scripts.
func Load(path string) (Script, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Script{}, err
	}
	if info.IsDir() {
		return loadRecording(filepath.Join(path, FramesFileName))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return loadRecording(path)
	case ".yaml", ".yml", ".json":
		return loadScript(path)
	default:
		return Script{}, fmt.Errorf("unsupported transcript format %q", filepath.Ext(path))
	}
}

func loadRecording(path string) (Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return Script{}, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var script Script
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		n++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line Line
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return Script{}, fmt.Errorf("decode transcript line %d: %w", n, err)
		}
		if line.Frame.Type == "" {
			return Script{}, fmt.Errorf("transcript line %d has no frame type", n)
		}
		script.Frames = append(script.Frames, line.Frame)
	}
	if err := scanner.Err(); err != nil {
		return Script{}, fmt.Errorf("read transcript: %w", err)
	}

	meta, err := readMetadata(filepath.Join(filepath.Dir(path), MetadataFileName))
	if err != nil {
		return Script{}, err
	}
	script.SessionID = meta.SessionID
	script.Kind = meta.Kind
	script.Mode = meta.Mode
	return script.withDefaults(), nil
}

func loadScript(path string) (Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}

	var script Script
	if err := yaml.Unmarshal(raw, &script); err != nil {
		return Script{}, fmt.Errorf("decode script: %w", err)
	}
	for i, f := range script.Frames {
		if f.Type == "" {
			return Script{}, fmt.Errorf("script frame %d has no type", i+1)
		}
	}
	if len(script.Frames) == 0 {
		return Script{}, errors.New("script has no frames")
	}
	return script.withDefaults(), nil
}

func (s Script) withDefaults() Script {
	if s.Kind == "" {
		s.Kind = event.KindInteractive
	}
	return s
}
