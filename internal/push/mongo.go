package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/models"
)

const mongoBatchSize = 500

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	// Clear deletes every document before the push.
	Clear bool
}

func (c MongoConfig) Validate() error {
	if c.URI == "" {
		return errors.New("mongo uri is required")
	}
	if c.Database == "" || c.Collection == "" {
		return errors.New("mongo database and collection are required")
	}
	return nil
}

// MongoPusher upserts one document per record, keyed by fingerprint.
type MongoPusher struct {
	client *mongo.Client
	coll   *mongo.Collection
	clear  bool
	logger *zap.Logger
	now    func() time.Time

	OnBatch func(rows int)
}

// NewMongoPusher connects, checks the server and ensures the collection
// indexes.
func NewMongoPusher(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoPusher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongo config: %w", err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	p := &MongoPusher{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		clear:  cfg.Clear,
		logger: nopIfNil(logger).Named("push.mongo"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := p.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return p, nil
}

func (p *MongoPusher) ensureIndexes(ctx context.Context) error {
	_, err := p.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "fingerprint", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "source_id", Value: 1}}},
		{Keys: bson.D{{Key: "deadline", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create mongo indexes: %w", err)
	}
	return nil
}

func (p *MongoPusher) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}

func (p *MongoPusher) Push(ctx context.Context, rows []models.ExportRow) (Result, error) {
	res := Result{Target: "mongo", Rows: len(rows)}

	if p.clear {
		deleted, err := p.coll.DeleteMany(ctx, bson.D{})
		if err != nil {
			return res, fmt.Errorf("clear collection: %w", err)
		}
		p.logger.Info("collection cleared", zap.Int64("deleted", deleted.DeletedCount))
	}

	writes := upsertModels(rows, p.now())
	for start := 0; start < len(writes); start += mongoBatchSize {
		end := min(start+mongoBatchSize, len(writes))

		out, err := p.coll.BulkWrite(ctx, writes[start:end], options.BulkWrite().SetOrdered(false))
		if out != nil {
			res.Inserted += int(out.UpsertedCount)
			res.Updated += int(out.MatchedCount)
		}
		if err != nil {
			return res, fmt.Errorf("bulk upsert at row %d: %w", start, err)
		}
		res.Batches++
		if p.OnBatch != nil {
			p.OnBatch(end - start)
		}
	}

	p.logger.Info("push completed",
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("batches", res.Batches))
	return res, nil
}

// upsertModels builds one replace-or-insert per row. Rows without a
// fingerprint cannot be keyed and are skipped.
func upsertModels(rows []models.ExportRow, pushedAt time.Time) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, 0, len(rows))
	for _, row := range rows {
		fp, _ := row["fingerprint"].(string)
		if fp == "" {
			continue
		}
		doc := make(bson.M, len(row)+1)
		for k, v := range row {
			doc[k] = v
		}
		doc["pushed_at"] = pushedAt

		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "fingerprint", Value: fp}}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	return writes
}
