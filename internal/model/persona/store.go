package persona

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteCatalog is returned by Validate when a persona lacks a credential or avatar.
var ErrIncompleteCatalog = errors.New("persona catalog incomplete")

// ErrMissingCredential reports a persona without a usable endpoint credential.
var ErrMissingCredential = errors.New("persona credential missing")

// credentialPrefix is the prefix every hosted app key carries.
const credentialPrefix = "app-"

// Store exposes persona retrieval for HTTP handlers.
type Store interface {
	List() []Persona
	FindByID(id ID) (Persona, bool)
}

// Catalog implements Store and binds each persona to its endpoint credential.
type Catalog struct {
	items       []Persona
	credentials map[ID]string
}

// NewCatalog returns a Catalog preloaded with the supplied personas and credentials.
func NewCatalog(items []Persona, credentials map[ID]string) *Catalog {
	creds := make(map[ID]string, len(credentials))
	for id, key := range credentials {
		creds[id] = strings.TrimSpace(key)
	}
	return &Catalog{items: append([]Persona(nil), items...), credentials: creds}
}

// List returns the persona list in display order.
func (c *Catalog) List() []Persona {
	return append([]Persona(nil), c.items...)
}

// FindByID looks up a persona by identifier.
func (c *Catalog) FindByID(id ID) (Persona, bool) {
	for _, item := range c.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// Credential returns the bearer token for the persona's hosted app.
func (c *Catalog) Credential(id ID) (string, bool) {
	key, ok := c.credentials[id]
	if !ok || !strings.HasPrefix(key, credentialPrefix) {
		return "", false
	}
	return key, true
}

// Resolve maps a label to a catalog entry.
func (c *Catalog) Resolve(label string) (Persona, error) {
	id, ok := Resolve(label)
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrUnresolved, label)
	}
	p, ok := c.FindByID(id)
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q is not in the catalog", ErrUnresolved, id)
	}
	return p, nil
}

// Validate checks that every canonical persona is present with an avatar and a credential.
func (c *Catalog) Validate() error {
	var problems []string
	for _, id := range All() {
		p, ok := c.FindByID(id)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: not in catalog", id))
			continue
		}
		if strings.TrimSpace(p.Avatar) == "" {
			problems = append(problems, fmt.Sprintf("%s: no avatar", id))
		}
		if _, ok := c.Credential(id); !ok {
			problems = append(problems, fmt.Sprintf("%s: credential missing or not an %q key", id, credentialPrefix))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrIncompleteCatalog, strings.Join(problems, "; "))
	}
	return nil
}
