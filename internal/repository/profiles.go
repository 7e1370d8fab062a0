package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/cinelist/internal/domain"
)

// ProfilesRepository provides access to the profiles table.
type ProfilesRepository struct {
	scope
}

const profileColumns = `id, COALESCE(username, ''), full_name, avatar_url, updated_at`

// Get returns a profile or ErrNotFound.
func (r *ProfilesRepository) Get(ctx context.Context, userID string) (domain.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	var profile domain.Profile
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		profile, err = scanProfile(tx.QueryRow(ctx, query, userID))
		return err
	})
	return profile, err
}

// Upsert creates the profile on first save and updates it afterwards. An empty
// username is stored as NULL so the unique constraint ignores it.
func (r *ProfilesRepository) Upsert(ctx context.Context, userID string, in domain.ProfileInput) (domain.Profile, error) {
	const query = `
        INSERT INTO profiles (id, username, full_name)
        VALUES ($1, NULLIF($2, ''), $3)
        ON CONFLICT (id)
        DO UPDATE SET username = EXCLUDED.username, full_name = EXCLUDED.full_name, updated_at = now()
        RETURNING ` + profileColumns

	var profile domain.Profile
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		profile, err = scanProfile(tx.QueryRow(ctx, query, userID, in.Username, in.FullName))
		if err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		return nil
	})
	return profile, err
}

func scanProfile(row pgx.Row) (domain.Profile, error) {
	var profile domain.Profile
	err := row.Scan(&profile.ID, &profile.Username, &profile.FullName, &profile.AvatarURL, &profile.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, ErrNotFound
		}
		return domain.Profile{}, err
	}
	return profile, nil
}
