package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"vinreports-api/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBReportCacheRepository implements ReportCacheRepository using MongoDB.
type MongoDBReportCacheRepository struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
}

// NewMongoDBReportCacheRepository creates a new MongoDB report cache repository.
func NewMongoDBReportCacheRepository(uri, database, collection string) (*MongoDBReportCacheRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Connect with retry
	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	coll := db.Collection(collection)

	// Unique compound index enforces at most one entry per (vin, report_type)
	indexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "vin", Value: 1},
			{Key: "report_type", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	_, err = coll.Indexes().CreateOne(ctx, indexModel)
	if err != nil {
		log.Printf("[MongoDB] Warning: failed to create index: %v", err)
	}

	log.Printf("[MongoDB] Connected to %s/%s", database, collection)
	return &MongoDBReportCacheRepository{
		client:     client,
		db:         db,
		collection: coll,
	}, nil
}

// reportDocument represents a cached report document in MongoDB.
type reportDocument struct {
	VIN        string    `bson:"vin"`
	ReportType string    `bson:"report_type"`
	Payload    []byte    `bson:"payload"`
	StoredAt   time.Time `bson:"stored_at"`
}

// Get retrieves a cached report by (vin, reportType). A miss is (nil, nil).
func (r *MongoDBReportCacheRepository) Get(ctx context.Context, vinRaw, reportType string) (*model.CachedReport, error) {
	vin, reportType := normalizeCacheKey(vinRaw, reportType)
	filter := bson.M{"vin": vin, "report_type": reportType}

	var doc reportDocument
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached report: %w", err)
	}

	return &model.CachedReport{
		VIN:        doc.VIN,
		ReportType: doc.ReportType,
		Payload:    doc.Payload,
		StoredAt:   doc.StoredAt,
	}, nil
}

// Put inserts or overwrites the cached report for (vin, reportType).
func (r *MongoDBReportCacheRepository) Put(ctx context.Context, vinRaw, reportType string, payload []byte) error {
	vin, reportType := normalizeCacheKey(vinRaw, reportType)
	filter := bson.M{"vin": vin, "report_type": reportType}
	update := bson.M{
		"$set": bson.M{
			"vin":         vin,
			"report_type": reportType,
			"payload":     payload,
			"stored_at":   time.Now().UTC(),
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to put cached report: %w", err)
	}
	return nil
}

// Exists reports whether a cache entry is present.
func (r *MongoDBReportCacheRepository) Exists(ctx context.Context, vinRaw, reportType string) (bool, error) {
	vin, reportType := normalizeCacheKey(vinRaw, reportType)
	count, err := r.collection.CountDocuments(ctx,
		bson.M{"vin": vin, "report_type": reportType},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check cached report: %w", err)
	}
	return count > 0, nil
}

// Stats returns statistics about the report cache collection.
func (r *MongoDBReportCacheRepository) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	stats["cached_reports"] = count

	opts := options.FindOne().SetSort(bson.D{{Key: "stored_at", Value: -1}})
	var latest reportDocument
	if err := r.collection.FindOne(ctx, bson.M{}, opts).Decode(&latest); err == nil {
		stats["last_stored"] = latest.StoredAt
	}

	var collStats bson.M
	if err := r.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: r.collection.Name()}}).Decode(&collStats); err == nil {
		if size, ok := collStats["size"]; ok {
			stats["db_size_bytes"] = size
		}
	}

	return stats, nil
}

// Close disconnects from MongoDB.
func (r *MongoDBReportCacheRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// Ensure MongoDBReportCacheRepository implements ReportCacheRepository
var _ ReportCacheRepository = (*MongoDBReportCacheRepository)(nil)
