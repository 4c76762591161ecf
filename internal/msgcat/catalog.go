// Package msgcat holds the user-facing message catalog.
package msgcat

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var embedded embed.FS

// Catalog maps dotted keys ("error.illegal_move") to text/template sources.
// Overrides replace individual keys; everything else keeps its default.
type Catalog struct {
	mu        sync.RWMutex
	sources   map[string]string
	templates map[string]*template.Template
}

// New loads the embedded messages, then every *.yaml / *.yml file in overrideDir.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{
		sources:   make(map[string]string),
		templates: make(map[string]*template.Template),
	}
	if err := c.load(embedded, false); err != nil {
		return nil, fmt.Errorf("embedded messages: %w", err)
	}
	if dir := strings.TrimSpace(overrideDir); dir != "" {
		if err := c.load(os.DirFS(dir), true); err != nil {
			return nil, fmt.Errorf("messages dir %s: %w", dir, err)
		}
	}
	return c, nil
}

// Default returns the embedded catalog without overrides.
func Default() *Catalog {
	c, err := New("")
	if err != nil {
		panic(err)
	}
	return c
}

// load merges the yaml files at the root of fsys in name order. With
// strict set, two files defining the same key are an error.
func (c *Catalog) load(fsys fs.FS, strict bool) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		switch strings.ToLower(path.Ext(e.Name())) {
		case ".yaml", ".yml":
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)

	owner := make(map[string]string)
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		flat := make(map[string]string)
		if err := flatten(doc, "", flat); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for key, src := range flat {
			if prev, dup := owner[key]; strict && dup {
				return fmt.Errorf("key %q defined in both %s and %s", key, prev, name)
			}
			owner[key] = name
			if err := c.set(key, src); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

func (c *Catalog) set(key, src string) error {
	tpl, err := template.New(key).Option("missingkey=error").Parse(src)
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	c.mu.Lock()
	c.sources[key] = src
	c.templates[key] = tpl
	c.mu.Unlock()
	return nil
}

func flatten(node any, prefix string, out map[string]string) error {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := flatten(child, key, out); err != nil {
				return err
			}
		}
	case string:
		if prefix == "" {
			return errors.New("top-level string without a key")
		}
		out[prefix] = v
	case nil:
	default:
		return fmt.Errorf("%s: want a string, got %T", prefix, v)
	}
	return nil
}

// Keys lists every known key, sorted.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.sources))
	for k := range c.sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Render executes the template stored under key.
func (c *Catalog) Render(key string, data any) (string, error) {
	c.mu.RLock()
	tpl, ok := c.templates[strings.TrimSpace(key)]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown message key %q", key)
	}
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Text renders key, falling back to the key itself when it cannot.
func (c *Catalog) Text(key string, data any) string {
	if c == nil {
		return key
	}
	s, err := c.Render(key, data)
	if err != nil {
		return key
	}
	return s
}
