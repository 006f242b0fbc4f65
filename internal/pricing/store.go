package pricing

import (
	"context"
	"errors"
	"fmt"

	"rabtrack/pkg/domain"
)

type ahsDocument struct {
	Version int64            `json:"version"`
	Items   []domain.AHSItem `json:"items"`
}

type resourcesDocument struct {
	Version int64                    `json:"version"`
	Items   []domain.PricingResource `json:"items"`
}

// Load replaces the library with the catalog stored in the settings
// collection. When neither document exists the library is left untouched
// and loaded is false.
func (l *Library) Load(ctx context.Context, store domain.DocumentStore) (loaded bool, err error) {
	var ahs ahsDocument
	var res resourcesDocument
	foundAHS, err := getSetting(ctx, store, domain.SettingsAHSLibrary, &ahs)
	if err != nil {
		return false, err
	}
	foundRes, err := getSetting(ctx, store, domain.SettingsResourcesLibrary, &res)
	if err != nil {
		return false, err
	}
	if !foundAHS && !foundRes {
		return false, nil
	}
	current := l.Snapshot()
	if foundAHS {
		current.AHS = ahs.Items
	}
	if foundRes {
		current.Resources = res.Items
	}
	l.Replace(current)
	return true, nil
}

// Save writes both catalog documents.
func (l *Library) Save(ctx context.Context, store domain.DocumentStore) error {
	l.mu.RLock()
	version := l.version
	snap := Catalog{Resources: l.resourcesLocked(), AHS: l.ahsLocked()}
	l.mu.RUnlock()

	if err := putSetting(ctx, store, domain.SettingsAHSLibrary, ahsDocument{Version: version, Items: snap.AHS}); err != nil {
		return err
	}
	return putSetting(ctx, store, domain.SettingsResourcesLibrary, resourcesDocument{Version: version, Items: snap.Resources})
}

func getSetting(ctx context.Context, store domain.DocumentStore, id string, target any) (bool, error) {
	doc, err := store.Get(ctx, domain.CollectionSettings, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &domain.SyncError{Op: "load " + id, Err: err}
	}
	if err := domain.DecodeFields(doc.Data, target); err != nil {
		return false, fmt.Errorf("decode %s: %w", id, err)
	}
	return true, nil
}

func putSetting(ctx context.Context, store domain.DocumentStore, id string, value any) error {
	fields, err := domain.FieldsOf(value)
	if err != nil {
		return err
	}
	_, err = store.Patch(ctx, domain.CollectionSettings, id, fields)
	if errors.Is(err, domain.ErrNotFound) {
		_, err = store.Create(ctx, domain.CollectionSettings, id, fields)
	}
	if err != nil {
		return &domain.SyncError{Op: "save " + id, Err: err}
	}
	return nil
}
