package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/notezilla/apiserver/types"
)

// VideoRepository handles persistence for processed videos.
type VideoRepository struct {
	conn
}

func NewVideoRepository(db *sql.DB, driver string) *VideoRepository {
	return &VideoRepository{conn: newConn(db, driver)}
}

func (r *VideoRepository) Create(ctx context.Context, video types.Video) (types.Video, error) {
	const query = `
		INSERT INTO videos (title, video_url, blob_key, transcript, summary, user_id)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		r.rebind(query),
		video.Title,
		video.VideoURL,
		video.BlobKey,
		nullString(video.Transcript),
		nullString(string(video.Summary)),
		video.UserID,
	).Scan(&video.ID); err != nil {
		return types.Video{}, err
	}
	return r.GetByID(ctx, video.ID)
}

func (r *VideoRepository) GetByID(ctx context.Context, id int) (types.Video, error) {
	const query = `
		SELECT id, title, video_url, blob_key, transcript, summary, user_id, created_at
		FROM videos
		WHERE id = ?`
	var video types.Video
	var transcript, summary sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&video.ID,
		&video.Title,
		&video.VideoURL,
		&video.BlobKey,
		&transcript,
		&summary,
		&video.UserID,
		&video.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Video{}, ErrNotFound
		}
		return types.Video{}, err
	}
	video.Transcript = transcript.String
	if summary.Valid && summary.String != "" {
		video.Summary = []byte(summary.String)
	}
	return video, nil
}

// ListByOwner returns the owner's videos, newest first.
func (r *VideoRepository) ListByOwner(ctx context.Context, ownerID int) ([]types.VideoListItem, error) {
	const query = `
		SELECT id, title, created_at
		FROM videos
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	videos := make([]types.VideoListItem, 0)
	for rows.Next() {
		var item types.VideoListItem
		if err := rows.Scan(&item.ID, &item.Title, &item.CreatedAt); err != nil {
			return nil, err
		}
		videos = append(videos, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *VideoRepository) UpdateTitle(ctx context.Context, id int, title string) error {
	const query = `UPDATE videos SET title = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), title, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *VideoRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM videos WHERE id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
