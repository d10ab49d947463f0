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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides all functions to execute db queries and transactions.
type Store struct {
	*Queries
	connPool *pgxpool.Pool
}

// NewStore creates a new Store.
func NewStore(connPool *pgxpool.Pool) *Store {
	return &Store{
		connPool: connPool,
		Queries:  New(connPool),
	}
}

func (store *Store) Pool() *pgxpool.Pool {
	return store.connPool
}

// Close closes the connection pool.
func (store *Store) Close() {
	if store.connPool != nil {
		store.connPool.Close()
	}
}

func (store *Store) execTx(ctx context.Context, fn func(*Store) error) (err error) {
	tx, err := store.connPool.Begin(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Use a timeout to prevent infinite hangs during cleanup.
		// Never use the caller ctx for cleanup as it may be cancelled.
		rbCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			if err != nil {
				err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
			} else {
				err = fmt.Errorf("rollback failed: %w", rbErr)
			}
		}
	}()

	txStore := &Store{
		connPool: store.connPool,
		Queries:  New(tx),
	}

	if err = fn(txStore); err != nil {
		return err
	}

	// Use a timeout for commit to prevent hanging if DB is unresponsive.
	commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = tx.Commit(commitCtx); err != nil {
		return err
	}
	committed = true
	return nil
}

// ActivatePointerParams drives one activate or rollback transition.
type ActivatePointerParams struct {
	ConfigType  string
	ProfileKey  string
	ContentHash string
	Actor       string
	Reason      string

	// ExpectedHash, when non-nil, is the optimistic lock: the transition
	// fails with a PointerConflictError unless it matches the pointer's
	// current hash ("" means the caller expects the key to be unset).
	ExpectedHash *string
}

// ActivatePointer transactionally replaces the active pointer for one key.
// The current pointer row is locked for the duration of the transaction, so
// activations on the same key are linearizable while distinct keys proceed
// fully in parallel. Returns ErrNotFound for an unknown hash and a
// *PointerConflictError on lock mismatch, same-hash re-activation, or a
// schema-version downgrade.
func (store *Store) ActivatePointer(ctx context.Context, arg ActivatePointerParams) (ActivePointer, error) {
	var result ActivePointer

	err := store.execTx(ctx, func(s *Store) error {
		blob, err := s.GetBlob(ctx, arg.ConfigType, arg.ProfileKey, arg.ContentHash)
		if err != nil {
			return err
		}

		current, err := s.getActivePointerForUpdate(ctx, arg.ConfigType, arg.ProfileKey)
		switch {
		case errors.Is(err, ErrNotFound):
			if arg.ExpectedHash != nil && *arg.ExpectedHash != "" {
				return &PointerConflictError{
					ConfigType: arg.ConfigType,
					ProfileKey: arg.ProfileKey,
					Detail:     "expected hash supplied but no pointer is set",
				}
			}
		case err != nil:
			return err
		default:
			if arg.ExpectedHash != nil && *arg.ExpectedHash != current.ActiveHash {
				return &PointerConflictError{
					ConfigType:  arg.ConfigType,
					ProfileKey:  arg.ProfileKey,
					CurrentHash: current.ActiveHash,
					ActivatedBy: current.ActivatedBy,
					ActivatedAt: current.ActivatedAt,
					Detail:      "expected hash is stale",
				}
			}
			if current.ActiveHash == arg.ContentHash {
				return &PointerConflictError{
					ConfigType:  arg.ConfigType,
					ProfileKey:  arg.ProfileKey,
					CurrentHash: current.ActiveHash,
					ActivatedBy: current.ActivatedBy,
					ActivatedAt: current.ActivatedAt,
					Detail:      "hash is already active",
				}
			}
			currentBlob, err := s.GetBlob(ctx, arg.ConfigType, arg.ProfileKey, current.ActiveHash)
			if err != nil {
				return fmt.Errorf("load current blob: %w", err)
			}
			if blob.SchemaVersion < currentBlob.SchemaVersion {
				return &PointerConflictError{
					ConfigType:  arg.ConfigType,
					ProfileKey:  arg.ProfileKey,
					CurrentHash: current.ActiveHash,
					ActivatedBy: current.ActivatedBy,
					ActivatedAt: current.ActivatedAt,
					Detail: fmt.Sprintf("schema version downgrade: candidate v%d below active v%d",
						blob.SchemaVersion, currentBlob.SchemaVersion),
				}
			}
		}

		result, err = s.upsertActivePointer(ctx, upsertActivePointerParams{
			ConfigType:  arg.ConfigType,
			ProfileKey:  arg.ProfileKey,
			ActiveHash:  arg.ContentHash,
			ActivatedBy: arg.Actor,
			Reason:      arg.Reason,
		})
		return err
	})
	if err != nil {
		return ActivePointer{}, err
	}
	return result, nil
}

// DeleteBlobIfUnreferenced removes a blob only when no active pointer, usage
// record, or snapshot references it; the checks and the delete share one
// transaction so a concurrent reference insert cannot race the removal.
func (store *Store) DeleteBlobIfUnreferenced(ctx context.Context, key UnreferencedBlobKey) (bool, error) {
	deleted := false
	err := store.execTx(ctx, func(s *Store) error {
		var referenced bool
		err := s.db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM active_pointers p
				WHERE p.config_type = $1 AND p.profile_key = $2 AND p.active_hash = $3)
			OR EXISTS (
				SELECT 1 FROM usage_records u
				WHERE u.config_type = $1 AND u.profile_key = $2 AND u.content_hash = $3)
			OR EXISTS (
				SELECT 1 FROM config_snapshots cs
				WHERE $3 = ANY(cs.referenced_hashes))`,
			key.ConfigType, key.ProfileKey, key.ContentHash).Scan(&referenced)
		if err != nil {
			return err
		}
		if referenced {
			return nil
		}
		deleted, err = s.deleteBlob(ctx, key)
		return err
	})
	return deleted, err
}
