package ravendb

import (
	"fmt"

	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

func (s *Session) infoFor(entity any) (*document.Info, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	info, ok := s.documentsByEntity[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrEntityNotTracked, entity)
	}
	return info, nil
}

// IgnoreChangesFor excludes entity from change detection: it is never
// written by SaveChanges, whatever is done to it.
func (s *Session) IgnoreChangesFor(entity any) error {
	info, err := s.infoFor(entity)
	if err != nil {
		return err
	}
	info.IgnoreChanges = true
	return nil
}

// GetMetadataFor returns the live metadata of entity. Changes to it are
// saved with the entity.
func (s *Session) GetMetadataFor(entity any) (document.Document, error) {
	info, err := s.infoFor(entity)
	if err != nil {
		return nil, err
	}
	if info.Metadata == nil {
		info.Metadata = document.Document{}
	}
	return info.Metadata, nil
}

// GetChangeVectorFor returns the change vector the session holds for entity;
// it is empty until the entity is saved or loaded.
func (s *Session) GetChangeVectorFor(entity any) (string, error) {
	info, err := s.infoFor(entity)
	if err != nil {
		return "", err
	}
	return info.ChangeVector, nil
}

// GetDocumentID returns the id entity is tracked under, or "" when it is not
// tracked.
func (s *Session) GetDocumentID(entity any) string {
	if info, ok := s.documentsByEntity[entity]; ok {
		return info.ID
	}
	return ""
}

// IsLoaded reports whether the session tracks a document with id, or holds
// it from an include.
func (s *Session) IsLoaded(id string) bool {
	if _, ok := s.documentsByID[idKey(id)]; ok {
		return true
	}
	_, ok := s.includedByID[idKey(id)]
	return ok
}

// HasChanges reports whether SaveChanges would send anything.
func (s *Session) HasChanges() (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if len(s.deletedEntities) > 0 || len(s.deferred) > 0 {
		return true, nil
	}
	for _, info := range s.trackedInOrder() {
		changed, err := s.changed(info)
		if err != nil || changed {
			return changed, err
		}
	}
	return false, nil
}

// HasChanged reports whether entity differs from its last known stored
// shape, or is pending deletion.
func (s *Session) HasChanged(entity any) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if _, deleted := s.deletedEntities[entity]; deleted {
		return true, nil
	}
	info, ok := s.documentsByEntity[entity]
	if !ok {
		return false, fmt.Errorf("%w: %T", ErrEntityNotTracked, entity)
	}
	return s.changed(info)
}

func (s *Session) changed(info *document.Info) (bool, error) {
	if info.IgnoreChanges {
		return false, nil
	}
	doc, err := s.conventions.Encode(info.Entity, info)
	if err != nil {
		return false, err
	}
	return document.Changed(doc, info), nil
}

// WhatChanged lists the pending changes per document id: field changes of
// tracked entities and deletions.
func (s *Session) WhatChanged() (map[string][]document.FieldChange, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := map[string][]document.FieldChange{}
	for _, info := range s.trackedInOrder() {
		if info.IgnoreChanges {
			continue
		}
		doc, err := s.conventions.Encode(info.Entity, info)
		if err != nil {
			return nil, err
		}
		if changes := document.Diff(doc, info); len(changes) > 0 {
			out[info.ID] = changes
		}
	}
	for _, info := range s.deletedInOrder() {
		out[info.ID] = []document.FieldChange{{
			FieldPath: constants.MetadataID,
			OldValue:  info.ID,
			Change:    document.DocumentDeleted,
		}}
	}
	return out, nil
}
