package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoKV implements the KV contract on a single MongoDB collection. The
// document _id is the key, which gives PutIfAbsent its atomicity through the
// collection's implicit unique index, and CompareAndSwap its atomicity
// through a filtered single-document update.
type MongoKV struct {
	db    *mongo.Database
	items *mongo.Collection
}

// kvDocument is the persisted shape of one pair.
type kvDocument struct {
	Key   string `bson:"_id"`
	Value []byte `bson:"value"`
}

// NewMongoKV constructs a MongoKV using a collection named "registryKV" in
// the provided database.
func NewMongoKV(db *mongo.Database) *MongoKV {
	return &MongoKV{
		db:    db,
		items: db.Collection("registryKV"),
	}
}

// Get returns the value for key and whether it was present.
func (m *MongoKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var doc kvDocument
	err := m.items.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}

	return doc.Value, true, nil
}

// Put writes the value unconditionally, inserting or replacing.
func (m *MongoKV) Put(ctx context.Context, key string, value []byte) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := m.items.ReplaceOne(ctx, bson.M{"_id": key}, kvDocument{Key: key, Value: value}, opts); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}

	return nil
}

// PutIfAbsent inserts the value and maps a duplicate-key rejection to
// ErrKeyExists.
func (m *MongoKV) PutIfAbsent(ctx context.Context, key string, value []byte) error {
	_, err := m.items.InsertOne(ctx, kvDocument{Key: key, Value: value})
	if mongo.IsDuplicateKeyError(err) {
		return ErrKeyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert key %q: %w", key, err)
	}

	return nil
}

// CompareAndSwap updates the document only when its stored value still equals
// expected. A zero match count means the write lost a race (or the key is
// gone) and surfaces as ErrConflict.
func (m *MongoKV) CompareAndSwap(ctx context.Context, key string, expected, value []byte) error {
	filter := bson.M{"_id": key, "value": expected}
	result, err := m.items.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"value": value}})
	if err != nil {
		return fmt.Errorf("failed to swap key %q: %w", key, err)
	}

	if result.MatchedCount == 0 {
		return ErrConflict
	}

	return nil
}

// Delete removes the key and reports whether it existed.
func (m *MongoKV) Delete(ctx context.Context, key string) (bool, error) {
	result, err := m.items.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return false, fmt.Errorf("failed to delete key %q: %w", key, err)
	}

	return result.DeletedCount > 0, nil
}

// ListByPrefix returns all pairs whose key starts with prefix, sorted by key.
func (m *MongoKV) ListByPrefix(ctx context.Context, prefix string) ([]Item, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	findOpts := options.Find().SetSort(bson.M{"_id": 1})

	cursor, err := m.items.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %q: %w", prefix, err)
	}
	defer cursor.Close(ctx)

	var results []Item
	for cursor.Next(ctx) {
		var doc kvDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode pair under prefix %q: %w", prefix, err)
		}
		results = append(results, Item{Key: doc.Key, Value: doc.Value})
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error while listing prefix %q: %w", prefix, err)
	}

	return results, nil
}
