// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package blobstore is the write path for configuration content: validate,
// canonicalize, hash, and store. Writing never changes what consumers see;
// visibility is controlled separately by pointer activation.
package blobstore

import (
	"context"

	"github.com/cardinalhq/confighub/configdb"
	"github.com/cardinalhq/confighub/internal/canonical"
	"github.com/cardinalhq/confighub/internal/logctx"
	"github.com/cardinalhq/confighub/internal/schema"
)

// Querier is the slice of configdb the blob store needs.
type Querier interface {
	InsertBlob(ctx context.Context, arg configdb.InsertBlobParams) (bool, error)
	GetBlob(ctx context.Context, configType, profileKey, contentHash string) (configdb.ConfigBlob, error)
	ListBlobHistory(ctx context.Context, arg configdb.ListBlobHistoryParams) ([]configdb.ConfigBlob, error)
	BlobExists(ctx context.Context, configType, profileKey, contentHash string) (bool, error)
}

type Service struct {
	db  Querier
	reg *schema.Registry
}

func NewService(db Querier, reg *schema.Registry) *Service {
	return &Service{db: db, reg: reg}
}

type PutParams struct {
	ConfigType   string
	ProfileKey   string
	Content      []byte
	VersionLabel string
	Actor        string
}

type PutResult struct {
	ContentHash   string `json:"contentHash"`
	SchemaVersion int32  `json:"schemaVersion"`
	Created       bool   `json:"created"`
}

func checkKeyNames(configType, profileKey string) error {
	var fields []schema.FieldError
	if !schema.ValidKeyName(configType) {
		fields = append(fields, schema.FieldError{Field: "configType", Message: "must match [a-z0-9][a-z0-9._-]{0,63}"})
	}
	if !schema.ValidKeyName(profileKey) {
		fields = append(fields, schema.FieldError{Field: "profileKey", Message: "must match [a-z0-9][a-z0-9._-]{0,63}"})
	}
	if len(fields) > 0 {
		return &schema.ValidationError{Fields: fields}
	}
	return nil
}

// Put validates and canonicalizes content, then stores it under its content
// hash. Identical canonical content dedups onto the existing row, so the
// returned hash is stable no matter how many times the same semantic payload
// is submitted.
func (s *Service) Put(ctx context.Context, p PutParams) (PutResult, error) {
	if err := checkKeyNames(p.ConfigType, p.ProfileKey); err != nil {
		return PutResult{}, err
	}

	sch, err := s.reg.Get(p.ConfigType)
	if err != nil {
		return PutResult{}, err
	}
	if err := s.reg.Validate(p.ConfigType, p.Content); err != nil {
		return PutResult{}, err
	}
	canon, err := s.reg.Canonicalize(p.ConfigType, p.Content)
	if err != nil {
		return PutResult{}, err
	}
	hash := canonical.Hash(canon)

	created, err := s.db.InsertBlob(ctx, configdb.InsertBlobParams{
		ConfigType:    p.ConfigType,
		ProfileKey:    p.ProfileKey,
		ContentHash:   hash,
		SchemaVersion: sch.SchemaVersion,
		VersionLabel:  p.VersionLabel,
		Content:       string(canon),
		CreatedBy:     p.Actor,
	})
	if err != nil {
		return PutResult{}, err
	}

	ll := logctx.FromContext(ctx)
	if created {
		ll.Info("Stored config blob",
			"configType", p.ConfigType,
			"profileKey", p.ProfileKey,
			"contentHash", hash,
			"createdBy", p.Actor)
	} else {
		ll.Debug("Config blob already present, deduplicated",
			"configType", p.ConfigType,
			"profileKey", p.ProfileKey,
			"contentHash", hash)
	}

	return PutResult{
		ContentHash:   hash,
		SchemaVersion: sch.SchemaVersion,
		Created:       created,
	}, nil
}

// Validate runs the same checks as Put without writing, returning the hash
// the content would be stored under.
func (s *Service) Validate(ctx context.Context, configType, profileKey string, content []byte) (string, error) {
	if err := checkKeyNames(configType, profileKey); err != nil {
		return "", err
	}
	if err := s.reg.Validate(configType, content); err != nil {
		return "", err
	}
	canon, err := s.reg.Canonicalize(configType, content)
	if err != nil {
		return "", err
	}
	return canonical.Hash(canon), nil
}

// Get fetches one immutable version by hash.
func (s *Service) Get(ctx context.Context, configType, profileKey, contentHash string) (configdb.ConfigBlob, error) {
	return s.db.GetBlob(ctx, configType, profileKey, contentHash)
}

// History lists stored versions for a key, newest first.
func (s *Service) History(ctx context.Context, configType, profileKey string, limit, offset int32) ([]configdb.ConfigBlob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.db.ListBlobHistory(ctx, configdb.ListBlobHistoryParams{
		ConfigType: configType,
		ProfileKey: profileKey,
		Limit:      limit,
		Offset:     offset,
	})
}

// Exists reports whether the hash was ever stored for the key.
func (s *Service) Exists(ctx context.Context, configType, profileKey, contentHash string) (bool, error) {
	return s.db.BlobExists(ctx, configType, profileKey, contentHash)
}
