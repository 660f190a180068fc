package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scopes used by herald. Each scope maps to one YAML file in the data
// directory.
const (
	ScopeMappings     = "JIRAMappings"
	ScopePreferences  = "JIRAPreferences"
	ScopeRepoChannels = "JIRARepoChannels"
)

// Store handles persistent storage of mapping and preference records. Records
// live in per-scope YAML documents, each a flat map from record key to record.
type Store struct {
	dataDir string
}

// NewStore creates a new storage instance rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
	}
}

// ensureDataDir creates the data directory if it doesn't exist
func (s *Store) ensureDataDir() error {
	return os.MkdirAll(s.dataDir, 0755)
}

// scopeFilePath returns the file path backing a given scope
func (s *Store) scopeFilePath(scope string) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("%s.yaml", scope))
}

// readScope loads the raw scope document, returning an empty map if the scope
// file does not exist yet.
func (s *Store) readScope(scope string) (map[string]yaml.Node, error) {
	data, err := os.ReadFile(s.scopeFilePath(scope))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]yaml.Node{}, nil
		}
		return nil, fmt.Errorf("failed to read scope file: %w", err)
	}

	records := map[string]yaml.Node{}
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse scope file: %w", err)
	}

	return records, nil
}

// writeScope persists the raw scope document.
func (s *Store) writeScope(scope string, records map[string]yaml.Node) error {
	if err := s.ensureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal scope: %w", err)
	}

	if err := os.WriteFile(s.scopeFilePath(scope), data, 0644); err != nil {
		return fmt.Errorf("failed to write scope file: %w", err)
	}

	return nil
}

// Put upserts a record under the given scope and key.
func (s *Store) Put(scope, key string, value interface{}) error {
	records, err := s.readScope(scope)
	if err != nil {
		return err
	}

	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	records[key] = node

	return s.writeScope(scope, records)
}

// Get decodes the record stored under scope/key into out. The second return
// value reports whether the record exists.
func (s *Store) Get(scope, key string, out interface{}) (bool, error) {
	records, err := s.readScope(scope)
	if err != nil {
		return false, err
	}

	node, ok := records[key]
	if !ok {
		return false, nil
	}

	if err := node.Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode record %q: %w", key, err)
	}

	return true, nil
}

// Delete removes the record stored under scope/key. Deleting an absent record
// is a no-op.
func (s *Store) Delete(scope, key string) error {
	records, err := s.readScope(scope)
	if err != nil {
		return err
	}

	if _, ok := records[key]; !ok {
		return nil
	}
	delete(records, key)

	return s.writeScope(scope, records)
}

// All decodes the entire scope document into out, which must be a pointer to
// a map keyed by record key (e.g. *map[string]mappings.Mapping).
func (s *Store) All(scope string, out interface{}) error {
	data, err := os.ReadFile(s.scopeFilePath(scope))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read scope file: %w", err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse scope file: %w", err)
	}

	return nil
}

// GetDataDir returns the data directory path
func (s *Store) GetDataDir() string {
	return s.dataDir
}
