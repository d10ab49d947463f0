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

// Package snapshotsvc captures job-scoped audit snapshots of fully resolved
// configuration. Capture assembles the record synchronously so job start is
// never delayed, persists it in the background, and lets the job await
// durability before it reports itself complete. Snapshots embed resolved
// values, not just hashes, so they reconstruct even after blob retention
// prunes the originals.
package snapshotsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cardinalhq/confighub/configdb"
	"github.com/cardinalhq/confighub/internal/logctx"
	"github.com/cardinalhq/confighub/internal/overrides"
)

// SnapshotFormatVersion is bumped when the persisted snapshot layout changes.
const SnapshotFormatVersion int32 = 1

// SourceActive marks a config resolved from an activated blob; SourceDefault
// marks one served from built-in defaults because the key was never
// activated.
const (
	SourceActive  = "active"
	SourceDefault = "default"
)

// ResolvedConfig is one config type's fully resolved state at capture time.
type ResolvedConfig struct {
	ConfigType       string              `json:"configType"`
	ProfileKey       string              `json:"profileKey"`
	ContentHash      string              `json:"contentHash,omitempty"`
	SchemaVersion    int32               `json:"schemaVersion"`
	Source           string              `json:"source"`
	Content          string              `json:"content"`
	AppliedOverrides []overrides.Applied `json:"appliedOverrides,omitempty"`
}

// Snapshot is the immutable audit record for one consumer.
type Snapshot struct {
	ConsumerID        string                    `json:"consumerId"`
	SchemaVersion     int32                     `json:"schemaVersion"`
	CapturedAt        time.Time                 `json:"capturedAt"`
	ConfigVersionHash string                    `json:"configVersionHash"`
	Configs           map[string]ResolvedConfig `json:"configs"`
	ExternalRefs      map[string]string         `json:"externalRefs,omitempty"`
}

// Querier is the slice of configdb the snapshot service needs.
type Querier interface {
	InsertSnapshot(ctx context.Context, arg configdb.InsertSnapshotParams) (bool, error)
	GetSnapshot(ctx context.Context, consumerID string) (configdb.ConfigSnapshot, error)
}

// Config tunes background persistence.
type Config struct {
	RetryLimit   int
	RetryBackoff time.Duration
}

type Service struct {
	db           Querier
	retryLimit   int
	retryBackoff time.Duration

	mu      sync.Mutex
	pending map[string]chan error
}

func NewService(db Querier, cfg Config) *Service {
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	return &Service{
		db:           db,
		retryLimit:   cfg.RetryLimit,
		retryBackoff: cfg.RetryBackoff,
		pending:      map[string]chan error{},
	}
}

// CaptureAsync assembles the snapshot in memory, kicks off persistence, and
// returns without waiting for the database. Callers that need durability call
// Wait with the same consumer ID before declaring their work complete.
func (s *Service) CaptureAsync(ctx context.Context, consumerID string, resolved []ResolvedConfig, externalRefs map[string]string) (Snapshot, error) {
	if consumerID == "" {
		return Snapshot{}, errors.New("consumerID is required")
	}
	if len(resolved) == 0 {
		return Snapshot{}, errors.New("at least one resolved config is required")
	}

	snap := Snapshot{
		ConsumerID:        consumerID,
		SchemaVersion:     SnapshotFormatVersion,
		CapturedAt:        time.Now().UTC(),
		Configs:           make(map[string]ResolvedConfig, len(resolved)),
		ExternalRefs:      externalRefs,
		ConfigVersionHash: VersionHash(resolved),
	}
	for _, rc := range resolved {
		snap.Configs[rc.ConfigType] = rc
	}

	done := make(chan error, 1)
	s.mu.Lock()
	if _, exists := s.pending[consumerID]; exists {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("capture already in flight for consumer %s", consumerID)
	}
	s.pending[consumerID] = done
	s.mu.Unlock()

	ll := logctx.FromContext(ctx)
	go func() {
		err := s.persist(snap)
		if err != nil {
			ll.Error("Snapshot persistence failed",
				"consumerId", consumerID, "error", err)
		}
		done <- err

		s.mu.Lock()
		delete(s.pending, consumerID)
		s.mu.Unlock()
	}()

	return snap, nil
}

// Wait blocks until the background persistence for a consumer finishes, and
// returns its outcome. Returns nil immediately when nothing is in flight
// (already persisted, or never captured).
func (s *Service) Wait(ctx context.Context, consumerID string) error {
	s.mu.Lock()
	done, ok := s.pending[consumerID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case err := <-done:
		// Re-arm for any other waiter.
		done <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) persist(snap Snapshot) error {
	resolved, err := json.Marshal(snap.Configs)
	if err != nil {
		return fmt.Errorf("marshal resolved configs: %w", err)
	}
	var externalRefs []byte
	if len(snap.ExternalRefs) > 0 {
		if externalRefs, err = json.Marshal(snap.ExternalRefs); err != nil {
			return fmt.Errorf("marshal external refs: %w", err)
		}
	}

	var hashes []string
	for _, rc := range snap.Configs {
		if rc.ContentHash != "" {
			hashes = append(hashes, rc.ContentHash)
		}
	}
	sort.Strings(hashes)

	arg := configdb.InsertSnapshotParams{
		ConsumerID:        snap.ConsumerID,
		SchemaVersion:     snap.SchemaVersion,
		ConfigVersionHash: snap.ConfigVersionHash,
		Resolved:          resolved,
		ExternalRefs:      externalRefs,
		ReferencedHashes:  hashes,
	}

	var lastErr error
	for attempt := 0; attempt <= s.retryLimit; attempt++ {
		if attempt > 0 {
			time.Sleep(s.retryBackoff * time.Duration(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		created, err := s.db.InsertSnapshot(ctx, arg)
		cancel()
		if err == nil {
			if !created {
				// Insert-once: a prior capture already holds the record.
				return nil
			}
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("persist snapshot for %s after %d attempts: %w", snap.ConsumerID, s.retryLimit+1, lastErr)
}

// Get loads a persisted snapshot.
func (s *Service) Get(ctx context.Context, consumerID string) (Snapshot, error) {
	row, err := s.db.GetSnapshot(ctx, consumerID)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		ConsumerID:        row.ConsumerID,
		SchemaVersion:     row.SchemaVersion,
		CapturedAt:        row.CapturedAt,
		ConfigVersionHash: row.ConfigVersionHash,
	}
	if err := json.Unmarshal(row.Resolved, &snap.Configs); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal resolved configs: %w", err)
	}
	if len(row.ExternalRefs) > 0 {
		if err := json.Unmarshal(row.ExternalRefs, &snap.ExternalRefs); err != nil {
			return Snapshot{}, fmt.Errorf("unmarshal external refs: %w", err)
		}
		if len(snap.ExternalRefs) == 0 {
			snap.ExternalRefs = nil
		}
	}
	return snap, nil
}

// VersionHash combines all resolved hashes into one comparable value.
// Defaults-sourced configs contribute a stable marker so two jobs differing
// only in which keys were unset still hash apart.
func VersionHash(resolved []ResolvedConfig) string {
	lines := make([]string, 0, len(resolved))
	for _, rc := range resolved {
		h := rc.ContentHash
		if h == "" {
			h = "default"
		}
		lines = append(lines, rc.ConfigType+"|"+rc.ProfileKey+"|"+h)
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
