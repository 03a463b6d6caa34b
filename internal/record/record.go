// Package record stores the two representations of every record: a small
// field map with the list-rendering projection, and a serialized detail blob
// fetched only for detail views. Both live under keys derived from the record
// id and are always written together with the record's timeline entries.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bryan-buckman/newsdex/internal/index"
	"github.com/bryan-buckman/newsdex/internal/keys"
	"github.com/bryan-buckman/newsdex/internal/kv"
	"github.com/bryan-buckman/newsdex/internal/model"
)

// Projection field names. They match the layout existing deployments wrote.
const (
	fieldTitle       = "title"
	fieldCategory    = "category"
	fieldPublishTime = "publish_time"
	fieldAuthor      = "author"
	fieldThumbnail   = "pic_path"
	fieldURL         = "url"
)

// conflictAttempts bounds retries of a delete that raced a concurrent write
// to the same category.
const conflictAttempts = 3

// Store reads and writes record representations.
type Store struct {
	kv    kv.Store
	keys  keys.Schema
	index *index.Manager
}

// New creates a Store. Timeline writes go through idx.
func New(st kv.Store, schema keys.Schema, idx *index.Manager) *Store {
	return &Store{kv: st, keys: schema, index: idx}
}

// Save writes the projection, the detail payload and the timeline entries of
// rec as one atomic batch. A positive ttl makes both representations expire
// on their own. If rec previously lived in another category it is removed
// from that category's timeline in the same batch.
func (s *Store) Save(ctx context.Context, rec model.Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec.Detail())
	if err != nil {
		return fmt.Errorf("encode detail %s: %w", rec.ID, err)
	}
	projKey := s.keys.Projection(rec.ID)
	stale, err := s.staleCategories(ctx, rec.ID, rec.Category)
	if err != nil {
		return err
	}

	err = s.kv.Atomic(ctx, func(p kv.Pipeline) {
		for _, old := range stale {
			p.ZRem(s.keys.Category(old), string(rec.ID))
		}
		p.HSet(projKey, encodeProjection(rec.Projection()))
		if ttl > 0 {
			p.Expire(projKey, ttl)
			p.SetEx(s.keys.Detail(rec.ID), string(payload), ttl)
		} else {
			p.Set(s.keys.Detail(rec.ID), string(payload))
		}
		s.index.AddToTimeline(p, rec.ID, rec.Category, rec.PublishTime)
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", rec.ID, err)
	}
	return nil
}

// staleCategories returns the categories other than category whose
// timelines still hold id. The projection names the previous category; once
// it has expired the registry is searched instead.
func (s *Store) staleCategories(ctx context.Context, id model.ID, category string) ([]string, error) {
	old, err := storedCategory(ctx, s.kv, s.keys.Projection(id))
	if err != nil {
		return nil, fmt.Errorf("read previous projection %s: %w", id, err)
	}
	if old != "" {
		if old == category {
			return nil, nil
		}
		return []string{old}, nil
	}
	if _, listed, err := s.index.Score(ctx, id); err != nil || !listed {
		return nil, err
	}
	cats, err := s.index.Categories(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range cats {
		if c == category {
			continue
		}
		if _, ok, err := s.kv.ZScore(ctx, s.keys.Category(c), string(id)); err != nil {
			return nil, fmt.Errorf("score %s in %q: %w", id, c, err)
		} else if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// FetchProjections returns the projections of ids in input order. An id
// without a projection (expired or deleted since it was listed) yields nil.
func (s *Store) FetchProjections(ctx context.Context, ids []model.ID) ([]*model.Projection, error) {
	hkeys := make([]string, len(ids))
	for i, id := range ids {
		hkeys[i] = s.keys.Projection(id)
	}
	maps, err := s.kv.HGetAllMulti(ctx, hkeys)
	if err != nil {
		return nil, fmt.Errorf("fetch projections: %w", err)
	}
	out := make([]*model.Projection, len(ids))
	for i, fields := range maps {
		out[i] = decodeProjection(ids[i], fields)
	}
	return out, nil
}

// FetchDetail returns the detail payload of id. Not found and expired are
// reported the same way: ok == false with a nil error.
func (s *Store) FetchDetail(ctx context.Context, id model.ID) (model.Detail, bool, error) {
	raw, ok, err := s.kv.Get(ctx, s.keys.Detail(id))
	if err != nil {
		return model.Detail{}, false, fmt.Errorf("fetch detail %s: %w", id, err)
	}
	if !ok {
		return model.Detail{}, false, nil
	}
	var d model.Detail
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return model.Detail{}, false, fmt.Errorf("decode detail %s: %w", id, err)
	}
	d.ID = id
	return d, true, nil
}

// Delete removes id's projection, detail and timeline entries. If the
// projection names a category other than the given one, id leaves that
// timeline too. A category leaves the registry only when this delete empties
// its timeline.
func (s *Store) Delete(ctx context.Context, id model.ID, category string) error {
	projKey := s.keys.Projection(id)
	var err error
	for i := 0; i < conflictAttempts; i++ {
		var stored string
		if stored, err = storedCategory(ctx, s.kv, projKey); err != nil {
			return fmt.Errorf("delete %s: read projection: %w", id, err)
		}
		cats := []string{category}
		if stored != "" && stored != category {
			cats = append(cats, stored)
		}
		watch := []string{projKey}
		for _, c := range cats {
			watch = append(watch, s.keys.Category(c))
		}
		err = s.kv.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
			now, err := storedCategory(ctx, tx, projKey)
			if err != nil {
				return err
			}
			if now != stored {
				return fmt.Errorf("%w: %s moved to category %q", kv.ErrConflict, id, now)
			}
			var emptied []string
			for _, c := range cats {
				ok, err := s.index.EmptiedByRemoval(ctx, tx, c, id)
				if err != nil {
					return err
				}
				if ok {
					emptied = append(emptied, c)
				}
			}
			return tx.Pipelined(ctx, func(p kv.Pipeline) {
				p.Del(s.keys.RecordKeys(id)...)
				for _, c := range cats {
					s.index.RemoveFromTimeline(p, id, c)
				}
				s.index.Unregister(p, emptied...)
			})
		}, watch...)
		if !errors.Is(err, kv.ErrConflict) || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// DeleteKeys queues removal of the storage keys of ids without touching any
// timeline. The retention sweeper pairs it with range removals.
func (s *Store) DeleteKeys(p kv.Pipeline, ids []model.ID) {
	for _, id := range ids {
		p.Del(s.keys.RecordKeys(id)...)
	}
}

func storedCategory(ctx context.Context, r kv.Reader, projKey string) (string, error) {
	fields, err := r.HGetAll(ctx, projKey)
	if err != nil {
		return "", err
	}
	return fields[fieldCategory], nil
}

func encodeProjection(p model.Projection) map[string]string {
	return map[string]string{
		fieldTitle:       p.Title,
		fieldCategory:    p.Category,
		fieldPublishTime: strconv.FormatInt(p.PublishTime, 10),
		fieldAuthor:      p.Author,
		fieldThumbnail:   p.Thumbnail,
		fieldURL:         p.URL,
	}
}

func decodeProjection(id model.ID, fields map[string]string) *model.Projection {
	if len(fields) == 0 {
		return nil
	}
	ts, _ := strconv.ParseInt(fields[fieldPublishTime], 10, 64)
	return &model.Projection{
		ID:          id,
		Title:       fields[fieldTitle],
		Category:    fields[fieldCategory],
		PublishTime: ts,
		Author:      fields[fieldAuthor],
		Thumbnail:   fields[fieldThumbnail],
		URL:         fields[fieldURL],
	}
}
