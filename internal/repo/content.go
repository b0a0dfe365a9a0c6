package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
)

func (s *SQLStore) GetStageContent(ctx context.Context, stage string) (model.StageContent, error) {
	query, args, err := s.sb.Select("stage", "welcome_text", "menu_text", "updated_at").
		From("stage_contents").
		Where(sq.Eq{"stage": stage}).
		ToSql()
	if err != nil {
		return model.StageContent{}, storeErr("get stage content", err)
	}
	var c model.StageContent
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&c.Stage, &c.WelcomeText, &c.MenuText, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StageContent{}, ErrNotFound
	}
	if err != nil {
		return model.StageContent{}, storeErr("get stage content", err)
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s *SQLStore) UpsertStageContent(ctx context.Context, c model.StageContent) error {
	if strings.TrimSpace(c.Stage) == "" {
		return &model.ValidationError{Field: "stage", Reason: "stage is required"}
	}
	query, args, err := s.sb.Insert("stage_contents").
		Columns("stage", "welcome_text", "menu_text", "updated_at").
		Values(c.Stage, c.WelcomeText, c.MenuText, s.now()).
		Suffix("ON CONFLICT (stage) DO UPDATE SET " +
			"welcome_text = excluded.welcome_text, " +
			"menu_text = excluded.menu_text, " +
			"updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return storeErr("upsert stage content", err)
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return storeErr("upsert stage content", err)
}

func (s *SQLStore) GetFeedbackOptions(ctx context.Context, stage string) (model.FeedbackOptions, error) {
	query, args, err := s.sb.Select("stage", "option_1", "option_2", "option_3", "updated_at").
		From("feedback_options").
		Where(sq.Eq{"stage": stage}).
		ToSql()
	if err != nil {
		return model.FeedbackOptions{}, storeErr("get feedback options", err)
	}
	var f model.FeedbackOptions
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&f.Stage, &f.Options[0], &f.Options[1], &f.Options[2], &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FeedbackOptions{}, ErrNotFound
	}
	if err != nil {
		return model.FeedbackOptions{}, storeErr("get feedback options", err)
	}
	f.UpdatedAt = f.UpdatedAt.UTC()
	return f, nil
}

func (s *SQLStore) UpsertFeedbackOptions(ctx context.Context, f model.FeedbackOptions) error {
	if strings.TrimSpace(f.Stage) == "" {
		return &model.ValidationError{Field: "stage", Reason: "stage is required"}
	}
	query, args, err := s.sb.Insert("feedback_options").
		Columns("stage", "option_1", "option_2", "option_3", "updated_at").
		Values(f.Stage, f.Options[0], f.Options[1], f.Options[2], s.now()).
		Suffix("ON CONFLICT (stage) DO UPDATE SET " +
			"option_1 = excluded.option_1, " +
			"option_2 = excluded.option_2, " +
			"option_3 = excluded.option_3, " +
			"updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return storeErr("upsert feedback options", err)
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return storeErr("upsert feedback options", err)
}
