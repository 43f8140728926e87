package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose"

	"github.com/you/memeq/internal/domain"
)

// Archive is a durable Postgres record of completed memes, kept past the
// Redis TTL. Writes are best-effort from the worker's point of view: a lost
// archive row never fails a completed job.
type Archive struct{ db *pgxpool.Pool }

func NewArchive(db *pgxpool.Pool) *Archive { return &Archive{db} }

type ArchivedMeme struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Type          string    `json:"type"`
	PersonaPrompt string    `json:"persona_prompt"`
	ThemePrompt   string    `json:"theme_prompt"`
	ImageURL      string    `json:"image_url"`
}

// ArchiveMeme inserts one completed meme. Replays of the same id (queue
// retries) upsert rather than error.
func (a *Archive) ArchiveMeme(ctx context.Context, job domain.Job, art domain.Artifact) error {
	_, err := a.db.Exec(ctx, `insert into memes(
id, created_at, type, persona_prompt, theme_prompt, image_url
) values ($1, now(), $2, $3, $4, $5)
on conflict (id) do update set image_url = excluded.image_url`,
		art.MemeID, art.Type, job.Request.PersonaPrompt, job.Request.ThemePrompt, art.ImageURL,
	)
	return errors.Wrapf(err, "archive meme %s", art.MemeID)
}

// RecentMemes lists the newest archived memes for the admin surface.
func (a *Archive) RecentMemes(ctx context.Context, limit int) ([]ArchivedMeme, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(ctx, `select id, created_at, type, persona_prompt, theme_prompt, image_url
from memes order by created_at desc limit $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list archived memes")
	}
	defer rows.Close()

	var out []ArchivedMeme
	for rows.Next() {
		var m ArchivedMeme
		if err := rows.Scan(&m.ID, &m.CreatedAt, &m.Type, &m.PersonaPrompt, &m.ThemePrompt, &m.ImageURL); err != nil {
			return nil, errors.Wrap(err, "scan archived meme")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ApplyMigrations runs the goose migrations for the archive schema. Called
// once at worker startup when an archive DSN is configured.
func ApplyMigrations(dsn, dir string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errors.Wrap(err, "open archive db")
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return errors.Wrap(goose.Up(db, dir), "apply archive migrations")
}
