// internal/adapter/storage/participation_store.go

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ritrovo/internal/domain/feed"
)

// participationStore implements membership tracking against one
// participation table. The moment and event collections keep separate
// participation tables with the same shape.
type participationStore struct {
	db           *pgxpool.Pool
	table        string
	contentTable string
}

// NewMomentParticipationStore creates the participation store for
// moment-kind items
func NewMomentParticipationStore(db *pgxpool.Pool) feed.ParticipationStore {
	return &participationStore{db: db, table: "moment_participations", contentTable: "moments"}
}

// NewEventParticipationStore creates the participation store for
// event-kind items
func NewEventParticipationStore(db *pgxpool.Pool) feed.ParticipationStore {
	return &participationStore{db: db, table: "event_participations", contentTable: "events"}
}

// Join atomically registers the user for an item. The content row is
// locked for the duration of the check so capacity cannot be raced
// from this path; the outcome mirrors the server-side join procedure.
func (s *participationStore) Join(ctx context.Context, itemID, userID string) (feed.JoinOutcome, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("error starting join transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var maxParticipants int
	var deleted bool
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT max_participants, deleted_at IS NOT NULL
		FROM %s
		WHERE id = $1
		FOR UPDATE
	`, s.contentTable), itemID).Scan(&maxParticipants, &deleted)
	if err == pgx.ErrNoRows {
		return feed.OutcomeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("error locking content row: %w", err)
	}
	if deleted {
		return feed.OutcomeNotFound, nil
	}

	var alreadyJoined bool
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s
			WHERE item_id = $1 AND user_id = $2 AND status = 'confirmed'
		)
	`, s.table), itemID, userID).Scan(&alreadyJoined)
	if err != nil {
		return "", fmt.Errorf("error checking membership: %w", err)
	}
	if alreadyJoined {
		return feed.OutcomeAlreadyJoined, nil
	}

	if maxParticipants > 0 {
		var count int
		err = tx.QueryRow(ctx, fmt.Sprintf(`
			SELECT COUNT(*) FROM %s
			WHERE item_id = $1 AND status = 'confirmed'
		`, s.table), itemID).Scan(&count)
		if err != nil {
			return "", fmt.Errorf("error counting participants: %w", err)
		}
		if count >= maxParticipants {
			return feed.OutcomeFull, nil
		}
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, item_id, user_id, status, created_at)
		VALUES ($1, $2, $3, 'confirmed', NOW())
	`, s.table), uuid.New().String(), itemID, userID)
	if err != nil {
		return "", fmt.Errorf("error inserting participation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("error committing join: %w", err)
	}

	return feed.OutcomeJoined, nil
}

// Leave deletes the user's participation record. Unlike Join this is
// not atomic against a capacity check; the local count a caller keeps
// can transiently diverge from server truth until the next reload.
func (s *participationStore) Leave(ctx context.Context, itemID, userID string) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE item_id = $1 AND user_id = $2
	`, s.table), itemID, userID)
	if err != nil {
		return fmt.Errorf("error deleting participation: %w", err)
	}

	return nil
}

// CountForItems returns confirmed participant counts per item id in one
// batched query
func (s *participationStore) CountForItems(ctx context.Context, itemIDs []string) (map[string]int, error) {
	if len(itemIDs) == 0 {
		return map[string]int{}, nil
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT item_id, COUNT(*)
		FROM %s
		WHERE item_id = ANY($1) AND status = 'confirmed'
		GROUP BY item_id
	`, s.table), itemIDs)
	if err != nil {
		return nil, fmt.Errorf("error counting participants: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(itemIDs))
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("error scanning participant count: %w", err)
		}
		counts[id] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant counts: %w", err)
	}

	return counts, nil
}
