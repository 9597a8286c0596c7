// Package catalog holds the candidate messages considered for display.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shehryarbajwa/inapp-messaging/internal/policy"
	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

var ErrNotFound = errors.New("message not found")

type entry struct {
	msg models.Message
	seq uint64
}

// Catalog stores candidate messages, optionally mirrored to a JSON file
type Catalog struct {
	entries map[string]entry
	seq     uint64
	path    string
	mu      sync.RWMutex
}

// New creates an empty catalog kept only in memory
func New() *Catalog {
	return &Catalog{
		entries: make(map[string]entry),
	}
}

// Open loads a catalog from a JSON array of messages at path and writes every
// change back to it. A missing file starts an empty catalog.
func Open(path string) (*Catalog, error) {
	c := New()
	c.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for _, m := range msgs {
		c.put(policy.Normalize(m))
	}
	return c, nil
}

// Put adds or replaces a message. Missing fields are filled with defaults.
// A replaced message keeps its original position.
func (c *Catalog) Put(msg models.Message) (models.Message, error) {
	msg = policy.Normalize(msg)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.put(msg)
	if err := c.persist(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (c *Catalog) put(msg models.Message) {
	if existing, ok := c.entries[msg.MessageID]; ok {
		c.entries[msg.MessageID] = entry{msg: msg, seq: existing.seq}
		return
	}
	c.seq++
	c.entries[msg.MessageID] = entry{msg: msg, seq: c.seq}
}

func (c *Catalog) Get(id string) (models.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return e.msg, nil
}

func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; !ok {
		return ErrNotFound
	}
	delete(c.entries, id)
	return c.persist()
}

// List returns messages in insertion order
func (c *Catalog) List() []models.Message {
	return c.sorted(func(a, b entry) bool { return a.seq < b.seq })
}

// Ordered returns messages from high to low priority, insertion order within a priority
func (c *Catalog) Ordered() []models.Message {
	return c.sorted(func(a, b entry) bool {
		ra, rb := a.msg.Priority.Rank(), b.msg.Priority.Rank()
		if ra != rb {
			return ra > rb
		}
		return a.seq < b.seq
	})
}

func (c *Catalog) sorted(less func(a, b entry) bool) []models.Message {
	c.mu.RLock()
	entries := make([]entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return less(entries[i], entries[j]) })

	msgs := make([]models.Message, len(entries))
	for i, e := range entries {
		msgs[i] = e.msg
	}
	return msgs
}

// persist must be called with mu held
func (c *Catalog) persist() error {
	if c.path == "" {
		return nil
	}

	entries := make([]entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	msgs := make([]models.Message, len(entries))
	for i, e := range entries {
		msgs[i] = e.msg
	}

	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}
