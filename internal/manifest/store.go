package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dyncmd/internal/logging"
)

const (
	// FileName is the manifest file inside the commands directory.
	FileName = "commands.json"
	// ScriptSuffix is appended to a command name to form its script file.
	ScriptSuffix = ".cmd.go"
)

// Store reads and writes the manifest and scripts of one commands directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is not created.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the commands directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the manifest path.
func (s *Store) Path() string { return filepath.Join(s.dir, FileName) }

// ScriptPath returns the script file for a command name.
func (s *Store) ScriptPath(name string) string {
	return filepath.Join(s.dir, name+ScriptSuffix)
}

// IsScript reports whether path names a command script file.
func IsScript(path string) bool {
	return strings.HasSuffix(filepath.Base(path), ScriptSuffix)
}

// Load reads and validates the manifest.
func (s *Store) Load() (*ParserData, error) {
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not in %s", ErrMissing, FileName, s.dir)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	pd, err := Validate(raw)
	if err != nil {
		return nil, err
	}
	logging.ManifestDebug("loaded %s (%d commands, prefix=%q)", s.Path(), len(pd.Commands), pd.CommandPrefix)
	return pd, nil
}

// Save rewrites the whole manifest atomically.
func (s *Store) Save(pd *ParserData) error {
	data, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')
	if err := writeAtomic(s.Path(), data); err != nil {
		return err
	}
	logging.ManifestDebug("saved %s (%d commands)", s.Path(), len(pd.Commands))
	return nil
}

// ReadScript returns the script source for a command.
func (s *Store) ReadScript(name string) (string, error) {
	if err := CheckName(name); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.ScriptPath(name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteScript atomically replaces the script for a command.
func (s *Store) WriteScript(name, source string) error {
	if err := CheckName(name); err != nil {
		return err
	}
	return writeAtomic(s.ScriptPath(name), []byte(source))
}

// RemoveScript deletes a command's script. It reports whether a file was
// removed; a missing file is not an error.
func (s *Store) RemoveScript(name string) (bool, error) {
	if err := CheckName(name); err != nil {
		return false, err
	}
	err := os.Remove(s.ScriptPath(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to remove script: %w", err)
	}
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
