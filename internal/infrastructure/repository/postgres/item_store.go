package postgres

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/sharplines/odds-fabric/internal/domain/store"
)

// ItemStore backs store.Store with a single composite-key table. The sparse
// secondary index is a partial btree on index_key; items without one never
// appear in Query results.
type ItemStore struct {
	db *sqlx.DB
}

func NewItemStore(db *sqlx.DB) *ItemStore {
	return &ItemStore{db: db}
}

const getItemQuery = `
SELECT pk, sk, index_key, attributes, updated_at
FROM fabric_items
WHERE pk = $1 AND sk = $2`

func (s *ItemStore) GetItem(ctx context.Context, pk, sk string) (store.Item, error) {
	var model fabricItemModel
	if err := s.db.GetContext(ctx, &model, getItemQuery, pk, sk); err != nil {
		if isNotFound(err) {
			return store.Item{}, store.ErrNotFound
		}
		return store.Item{}, errors.Wrapf(err, "get item %s/%s", pk, sk)
	}
	return itemFromModel(model)
}

const putItemQuery = `
INSERT INTO fabric_items (pk, sk, index_key, attributes, updated_at)
VALUES (:pk, :sk, :index_key, :attributes, :updated_at)
ON CONFLICT (pk, sk) DO UPDATE SET
    index_key = EXCLUDED.index_key,
    attributes = EXCLUDED.attributes,
    updated_at = EXCLUDED.updated_at`

func (s *ItemStore) PutItem(ctx context.Context, item store.Item) error {
	attrs, err := marshalAttributes(item.Attributes)
	if err != nil {
		return err
	}

	updatedAt := item.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	model := fabricItemModel{
		PK:         item.PK,
		SK:         item.SK,
		IndexKey:   optionalString(item.IndexKey),
		Attributes: attrs,
		UpdatedAt:  updatedAt,
	}
	if _, err := s.db.NamedExecContext(ctx, putItemQuery, model); err != nil {
		return errors.Wrapf(err, "put item %s/%s", item.PK, item.SK)
	}
	return nil
}

const queryItemsQuery = `
SELECT pk, sk, index_key, attributes, updated_at
FROM fabric_items
WHERE index_key = $1
  AND ($2 = '' OR sk >= $2)
  AND ($3 = '' OR sk <= $3)
ORDER BY sk`

func (s *ItemStore) Query(ctx context.Context, indexKey string, sortRange store.SortRange) ([]store.Item, error) {
	var models []fabricItemModel
	if err := s.db.SelectContext(ctx, &models, queryItemsQuery, indexKey, sortRange.From, sortRange.To); err != nil {
		return nil, errors.Wrapf(err, "query index %s", indexKey)
	}

	out := make([]store.Item, 0, len(models))
	for _, model := range models {
		item, err := itemFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

const updateItemQuery = `
UPDATE fabric_items
SET attributes = attributes || $3::jsonb,
    updated_at = $4
WHERE pk = $1 AND sk = $2`

func (s *ItemStore) UpdateItem(ctx context.Context, pk, sk string, attrs map[string]any) error {
	merged, err := marshalAttributes(attrs)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, updateItemQuery, pk, sk, merged, time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "update item %s/%s", pk, sk)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func marshalAttributes(attrs map[string]any) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	raw, err := sonic.Marshal(attrs)
	if err != nil {
		return "", errors.Wrap(err, "marshal item attributes")
	}
	return string(raw), nil
}

func itemFromModel(model fabricItemModel) (store.Item, error) {
	item := store.Item{
		PK:        model.PK,
		SK:        model.SK,
		IndexKey:  stringValue(model.IndexKey),
		UpdatedAt: model.UpdatedAt,
	}
	if model.Attributes != "" {
		if err := sonic.Unmarshal([]byte(model.Attributes), &item.Attributes); err != nil {
			return store.Item{}, errors.Wrapf(err, "decode attributes %s/%s", model.PK, model.SK)
		}
	}
	return item, nil
}
