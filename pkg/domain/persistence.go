package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Collection paths of the persisted document layout.
const (
	CollectionProjects  = "projects"
	CollectionUsers     = "app_users"
	CollectionTemplates = "project_templates"
	CollectionSettings  = "settings"
)

// Singleton documents inside CollectionSettings.
const (
	SettingsAHSLibrary       = "ahs_library"
	SettingsResourcesLibrary = "resources_library"
)

// Fields maps top-level document field names to their JSON encoding. An
// entry with an empty raw value is the undefined marker; remote stores
// refuse to commit it.
type Fields map[string]json.RawMessage

// Keys returns the field names in unspecified order.
func (f Fields) Keys() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	return out
}

// Clone deep-copies the field map.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneRaw(v)
	}
	return out
}

// Committable returns ErrUncommittable for the first undefined or
// syntactically invalid field.
func (f Fields) Committable() error {
	for k, v := range f {
		if len(v) == 0 {
			return fmt.Errorf("field %q: %w", k, ErrUncommittable)
		}
		if !json.Valid(v) {
			return fmt.Errorf("field %q: invalid json: %w", k, ErrUncommittable)
		}
	}
	return nil
}

// Merge overlays patch onto f and returns the result. Neither input is mutated.
func (f Fields) Merge(patch Fields) Fields {
	out := f.Clone()
	if out == nil {
		out = make(Fields, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneRaw(v)
	}
	return out
}

// FieldsOf encodes a struct as top-level fields.
func FieldsOf(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out Fields
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeFields decodes fields into the struct pointed to by v.
func DecodeFields(f Fields, v any) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}

// Document is one stored record. Version is assigned by the store and grows
// monotonically with every write to the same document.
type Document struct {
	Collection string
	ID         string
	Data       Fields
	Version    int64
	UpdatedAt  time.Time
}

// Query selects the documents a subscription observes. An empty ID watches
// the whole collection.
type Query struct {
	Collection string
	ID         string
}

// Matches reports whether a document in collection/id falls inside the query.
func (q Query) Matches(collection, id string) bool {
	if q.Collection != collection {
		return false
	}
	return q.ID == "" || q.ID == id
}

// DocumentSet is one snapshot of every document matching a query.
type DocumentSet struct {
	Query     Query
	Documents []Document
}

// DocumentStore is the remote source of truth: a hierarchical document
// store keyed by collection path with partial-field patches and change
// subscriptions.
type DocumentStore interface {
	// Get returns the document or an error matching ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Create stores a new document. An empty id lets the store assign one.
	Create(ctx context.Context, collection, id string, data Fields) (Document, error)
	// Patch overlays fields onto an existing document.
	Patch(ctx context.Context, collection, id string, fields Fields) (Document, error)
	// Delete removes a document; deleting a missing document matches ErrNotFound.
	Delete(ctx context.Context, collection, id string) error
	// Subscribe emits a full snapshot immediately and again after every
	// change until ctx is cancelled, then closes the channel.
	Subscribe(ctx context.Context, q Query) (<-chan DocumentSet, error)
}
