package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/loomhq/loom/apps/server/internal/migrations"
	"github.com/loomhq/loom/pkg/api"
)

const (
	redisIndexKey         = "migrations:index"
	redisKeyPrefix        = "migration:"
	redisCandidatesPrefix = "migration-candidates:"
)

// Compile-time check: *RedisMigrationStore implements migrations.MigrationStore.
var _ migrations.MigrationStore = (*RedisMigrationStore)(nil)

// RedisMigrationStore implements MigrationStore using go-redis directly.
//
// Layout: the migration definition lives at migration:<id> with candidates
// stripped, the candidate list at migration-candidates:<id>, and all ids in
// the migrations:index set. Splitting the keys keeps candidate status writes
// (which happen on every run transition) from rewriting the definition blob.
type RedisMigrationStore struct {
	rdb *redis.Client
}

// NewRedisMigrationStore creates a new RedisMigrationStore.
func NewRedisMigrationStore(rdb *redis.Client) *RedisMigrationStore {
	return &RedisMigrationStore{rdb: rdb}
}

// Save persists a migration and adds its ID to the index set. Candidates, if
// present, are written to their own key; a save without candidates leaves an
// existing candidate list untouched.
func (s *RedisMigrationStore) Save(ctx context.Context, m api.Migration) error {
	candidates := m.Candidates
	m.Candidates = nil

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal migration: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+m.Id, data, 0).Err(); err != nil {
		return fmt.Errorf("save migration %q: %w", m.Id, err)
	}
	// SADD is idempotent, safe to call even if the ID is already in the set.
	if err := s.rdb.SAdd(ctx, redisIndexKey, m.Id).Err(); err != nil {
		return fmt.Errorf("update index for %q: %w", m.Id, err)
	}
	if len(candidates) > 0 {
		if err := s.writeCandidates(ctx, m.Id, candidates); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a migration by ID with its candidates, returning nil if not found.
func (s *RedisMigrationStore) Get(ctx context.Context, id string) (*api.Migration, error) {
	val, err := s.rdb.Get(ctx, redisKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // caller checks nil value to detect "not found"
	}
	if err != nil {
		return nil, fmt.Errorf("get migration %q: %w", id, err)
	}
	var m api.Migration
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return nil, fmt.Errorf("unmarshal migration %q: %w", id, err)
	}
	candidates, err := s.readCandidates(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Candidates = candidates
	return &m, nil
}

// List returns all migrations.
func (s *RedisMigrationStore) List(ctx context.Context) ([]api.Migration, error) {
	ids, err := s.rdb.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	result := make([]api.Migration, 0, len(ids))
	for _, id := range ids {
		m, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			result = append(result, *m)
		}
	}
	return result, nil
}

// SetCandidateStatus updates the status of a specific candidate. Only the
// candidates key is rewritten.
func (s *RedisMigrationStore) SetCandidateStatus(
	ctx context.Context,
	migrationID, candidateID string,
	status api.CandidateStatus,
) error {
	candidates, err := s.readCandidates(ctx, migrationID)
	if err != nil {
		return err
	}
	for i, c := range candidates {
		if c.Id == candidateID {
			candidates[i].Status = &status
			return s.writeCandidates(ctx, migrationID, candidates)
		}
	}
	return fmt.Errorf("candidate %q not found in migration %q", candidateID, migrationID)
}

// UpdateCandidateMetadata merges the given values into a candidate's
// metadata key by key. Keys absent from the update are retained.
func (s *RedisMigrationStore) UpdateCandidateMetadata(
	ctx context.Context,
	migrationID, candidateID string,
	metadata map[string]string,
) error {
	candidates, err := s.readCandidates(ctx, migrationID)
	if err != nil {
		return err
	}
	for i, c := range candidates {
		if c.Id != candidateID {
			continue
		}
		merged := make(map[string]string)
		if c.Metadata != nil {
			for k, v := range *c.Metadata {
				merged[k] = v
			}
		}
		for k, v := range metadata {
			merged[k] = v
		}
		candidates[i].Metadata = &merged
		return s.writeCandidates(ctx, migrationID, candidates)
	}
	return fmt.Errorf("candidate %q not found in migration %q", candidateID, migrationID)
}

// SaveCandidates merges the discovered candidate list into the migration.
// Candidates already in running or completed state are preserved as-is, even
// when missing from the incoming list.
func (s *RedisMigrationStore) SaveCandidates(ctx context.Context, migrationID string, incoming []api.Candidate) error {
	exists, err := s.rdb.Exists(ctx, redisKeyPrefix+migrationID).Result()
	if err != nil {
		return fmt.Errorf("check migration %q: %w", migrationID, err)
	}
	if exists == 0 {
		return fmt.Errorf("migration %q not found", migrationID)
	}

	current, err := s.readCandidates(ctx, migrationID)
	if err != nil {
		return err
	}
	existing := make(map[string]api.Candidate, len(current))
	for _, c := range current {
		existing[c.Id] = c
	}

	notStarted := api.CandidateStatusNotStarted
	incomingIDs := make(map[string]bool, len(incoming))
	merged := make([]api.Candidate, 0, len(incoming))
	for _, c := range incoming {
		incomingIDs[c.Id] = true
		if ex, ok := existing[c.Id]; ok && ex.Status != nil &&
			(*ex.Status == api.CandidateStatusRunning || *ex.Status == api.CandidateStatusCompleted) {
			merged = append(merged, ex)
		} else {
			c.Status = &notStarted
			merged = append(merged, c)
		}
	}

	// Keep running/completed candidates that are no longer in the incoming list.
	for _, ex := range current {
		if !incomingIDs[ex.Id] && ex.Status != nil &&
			(*ex.Status == api.CandidateStatusRunning || *ex.Status == api.CandidateStatusCompleted) {
			merged = append(merged, ex)
		}
	}

	return s.writeCandidates(ctx, migrationID, merged)
}

// GetCandidates returns the candidate list for a migration with their current status.
func (s *RedisMigrationStore) GetCandidates(ctx context.Context, migrationID string) ([]api.Candidate, error) {
	exists, err := s.rdb.Exists(ctx, redisKeyPrefix+migrationID).Result()
	if err != nil {
		return nil, fmt.Errorf("check migration %q: %w", migrationID, err)
	}
	if exists == 0 {
		return nil, nil //nolint:nilnil // migration not found treated as no candidates
	}
	return s.readCandidates(ctx, migrationID)
}

func (s *RedisMigrationStore) readCandidates(ctx context.Context, migrationID string) ([]api.Candidate, error) {
	val, err := s.rdb.Get(ctx, redisCandidatesPrefix+migrationID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get candidates for %q: %w", migrationID, err)
	}
	var candidates []api.Candidate
	if err := json.Unmarshal([]byte(val), &candidates); err != nil {
		return nil, fmt.Errorf("unmarshal candidates for %q: %w", migrationID, err)
	}
	return candidates, nil
}

func (s *RedisMigrationStore) writeCandidates(ctx context.Context, migrationID string, candidates []api.Candidate) error {
	data, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}
	if err := s.rdb.Set(ctx, redisCandidatesPrefix+migrationID, data, 0).Err(); err != nil {
		return fmt.Errorf("save candidates for %q: %w", migrationID, err)
	}
	return nil
}
