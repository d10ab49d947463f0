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

package configdb

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ConfigBlob is one immutable, content-addressed configuration payload.
// Rows are never updated; identical canonical content dedups onto one row.
type ConfigBlob struct {
	ConfigType    string    `json:"configType"`
	ProfileKey    string    `json:"profileKey"`
	ContentHash   string    `json:"contentHash"`
	SchemaVersion int32     `json:"schemaVersion"`
	VersionLabel  string    `json:"versionLabel"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
	CreatedBy     string    `json:"createdBy"`
}

// ActivePointer names the currently active blob for a (type, profile) key.
// Exactly one row exists per key, enforced by the primary key.
type ActivePointer struct {
	ConfigType  string    `json:"configType"`
	ProfileKey  string    `json:"profileKey"`
	ActiveHash  string    `json:"activeHash"`
	ActivatedAt time.Time `json:"activatedAt"`
	ActivatedBy string    `json:"activatedBy"`
	Reason      string    `json:"reason"`
}

// UsageRecord is one append-only consumption record.
type UsageRecord struct {
	ID                 string    `json:"id"`
	ConsumerID         string    `json:"consumerId"`
	ConfigType         string    `json:"configType"`
	ProfileKey         string    `json:"profileKey"`
	ContentHash        string    `json:"contentHash"`
	EffectiveOverrides []byte    `json:"effectiveOverrides"`
	LoadedAt           time.Time `json:"loadedAt"`
}

// ConfigSnapshot is the insert-once, fully resolved capture for one consumer.
type ConfigSnapshot struct {
	ConsumerID        string    `json:"consumerId"`
	SchemaVersion     int32     `json:"schemaVersion"`
	CapturedAt        time.Time `json:"capturedAt"`
	ConfigVersionHash string    `json:"configVersionHash"`
	Resolved          []byte    `json:"resolved"`
	ExternalRefs      []byte    `json:"externalRefs"`
	ReferencedHashes  []string  `json:"-"`
}

// PointerConflictError reports a failed activation along with the
// authoritative current state so the caller can re-fetch and retry.
type PointerConflictError struct {
	ConfigType  string    `json:"configType"`
	ProfileKey  string    `json:"profileKey"`
	CurrentHash string    `json:"currentHash"`
	ActivatedBy string    `json:"activatedBy"`
	ActivatedAt time.Time `json:"activatedAt"`
	Detail      string    `json:"detail"`
}

func (e *PointerConflictError) Error() string {
	return fmt.Sprintf("activation conflict on %s/%s: %s (current hash %q, activated by %q at %s)",
		e.ConfigType, e.ProfileKey, e.Detail, e.CurrentHash, e.ActivatedBy, e.ActivatedAt.Format(time.RFC3339))
}
