// Package registry maintains the durable mapping of users to named base
// paths (aliases).
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// ErrAliasNotFound is returned when a (user, alias) pair is unknown.
var ErrAliasNotFound = errors.New("alias not found")

// AliasRegistry is the read surface the aggregation engine depends on.
type AliasRegistry interface {
	AliasesForUser(userID string) []Descriptor
	Alias(userID, name string) (Descriptor, bool)
	Users() []string
}

// Descriptor describes one alias: a user-defined label mapped to a base
// directory containing that user's logs.
type Descriptor struct {
	UserID         string    `json:"userId"`
	AliasName      string    `json:"aliasName"`
	BasePath       string    `json:"basePath"`
	AccessCount    int64     `json:"accessCount"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// storeData is the on-disk JSON structure: the whole registry as one
// snapshot, keyed user → alias name → descriptor.
type storeData struct {
	Users map[string]map[string]*Descriptor `json:"users"`
}

// Store is a JSON-file-backed AliasRegistry. The file is read once at
// construction; every mutation rewrites the whole snapshot atomically
// (temp file + rename) behind a single writer mutex.
type Store struct {
	mu   sync.RWMutex
	path string
	data storeData
}

// Open creates or loads a registry file at the given path.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: storeData{Users: make(map[string]map[string]*Descriptor)},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	if s.data.Users == nil {
		s.data.Users = make(map[string]map[string]*Descriptor)
	}
	return s, nil
}

// Users returns all known user IDs, sorted.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.data.Users))
	for u := range s.data.Users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// AliasesForUser returns all aliases registered for a user, sorted by name.
func (s *Store) AliasesForUser(userID string) []Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	aliases := s.data.Users[userID]
	out := make([]Descriptor, 0, len(aliases))
	for _, d := range aliases {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AliasName < out[j].AliasName })
	return out
}

// Alias returns the named alias for a user.
func (s *Store) Alias(userID, name string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.data.Users[userID][name]; ok {
		return *d, true
	}
	return Descriptor{}, false
}

// Put registers or replaces an alias and flushes the snapshot.
func (s *Store) Put(userID, name, basePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Users[userID] == nil {
		s.data.Users[userID] = make(map[string]*Descriptor)
	}
	existing := s.data.Users[userID][name]
	d := &Descriptor{UserID: userID, AliasName: name, BasePath: basePath}
	if existing != nil {
		d.AccessCount = existing.AccessCount
		d.LastAccessedAt = existing.LastAccessedAt
	}
	s.data.Users[userID][name] = d
	return s.flushLocked()
}

// Remove deletes an alias and flushes the snapshot.
func (s *Store) Remove(userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	aliases := s.data.Users[userID]
	if _, ok := aliases[name]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrAliasNotFound, userID, name)
	}
	delete(aliases, name)
	if len(aliases) == 0 {
		delete(s.data.Users, userID)
	}
	return s.flushLocked()
}

// Touch bumps the access counter for an alias. Flush failures here are
// returned but callers on the read path may ignore them.
func (s *Store) Touch(userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.data.Users[userID][name]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrAliasNotFound, userID, name)
	}
	d.AccessCount++
	d.LastAccessedAt = time.Now()
	return s.flushLocked()
}

// flushLocked writes the whole snapshot to disk atomically. Callers hold
// the write lock, which serializes writers.
func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
