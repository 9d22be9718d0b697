// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"nlpflow/platform/shared/logger"
)

const (
	DefaultMongoConnectTimeout = 10 * time.Second
	DefaultMongoMaxPoolSize    = 50
)

// mongoRecord is the document layout of a stored result. Config and result
// hold the JSON text as pushed so a fetch returns the same bytes.
type mongoRecord struct {
	ResourceID  string    `bson:"_id"`
	JobID       string    `bson:"job_id"`
	Origin      string    `bson:"origin"`
	ServiceName string    `bson:"service_name"`
	Timestamp   time.Time `bson:"timestamp"`
	Config      string    `bson:"config"`
	Result      string    `bson:"result"`
}

// MongoStore stores results in a MongoDB collection keyed by resource id
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	newID      IDFunc
	log        *logger.Logger
}

// ConnectMongo dials MongoDB, verifies the connection and returns a store on
// the given database and collection.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if database == "" || collection == "" {
		return nil, fmt.Errorf("mongo database and collection are required")
	}

	clientOpts := options.Client().ApplyURI(uri)
	clientOpts.SetMaxPoolSize(DefaultMongoMaxPoolSize)
	clientOpts.SetConnectTimeout(DefaultMongoConnectTimeout)
	clientOpts.SetAppName("nlpflow-results")
	clientOpts.SetRetryWrites(true)
	clientOpts.SetRetryReads(true)

	connectCtx, cancel := context.WithTimeout(ctx, DefaultMongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, newStorageError("mongo", "Connect", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, newStorageError("mongo", "Connect", err)
	}

	return NewMongoStore(client, client.Database(database).Collection(collection)), nil
}

// NewMongoStore wraps an existing collection
func NewMongoStore(client *mongo.Client, collection *mongo.Collection) *MongoStore {
	return &MongoStore{
		client:     client,
		collection: collection,
		newID:      defaultID,
		log:        logger.New("results-mongo"),
	}
}

// Close disconnects the underlying client
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return newStorageError("mongo", "Close", err)
	}
	return nil
}

// Push inserts a new document. A duplicate key on _id triggers a fresh id,
// never an overwrite.
func (s *MongoStore) Push(ctx context.Context, jobID, origin, serviceName string, config, result json.RawMessage) (string, error) {
	if err := validatePayload(result); err != nil {
		return "", err
	}
	if len(config) == 0 {
		config = json.RawMessage("null")
	}
	if !json.Valid(config) {
		return "", errors.New("config payload is not valid JSON")
	}

	doc := mongoRecord{
		JobID:       jobID,
		Origin:      origin,
		ServiceName: serviceName,
		Timestamp:   time.Now().UTC(),
		Config:      string(config),
		Result:      string(result),
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		doc.ResourceID = s.newID()
		_, err := s.collection.InsertOne(ctx, doc)
		if err == nil {
			return doc.ResourceID, nil
		}
		if mongo.IsDuplicateKeyError(err) {
			s.log.Warn(jobID, origin, "Resource id collision, regenerating", map[string]interface{}{
				"resource_id": doc.ResourceID,
			})
			continue
		}
		return "", newStorageError("mongo", "Push", err)
	}
	return "", newStorageError("mongo", "Push", ErrIDCollision)
}

// Fetch returns the result field of the document with the given id
func (s *MongoStore) Fetch(ctx context.Context, resourceID string) (json.RawMessage, bool, error) {
	opts := options.FindOne().SetProjection(bson.M{"result": 1})

	var doc struct {
		Result bson.RawValue `bson:"result"`
	}
	err := s.collection.FindOne(ctx, bson.M{"_id": resourceID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, newStorageError("mongo", "Fetch", err)
	}

	out, err := payloadFromBSON(doc.Result)
	if err != nil {
		return nil, false, newStorageError("mongo", "Fetch", err)
	}
	return out, true, nil
}

// payloadFromBSON returns the stored JSON text of a result field
func payloadFromBSON(value bson.RawValue) (json.RawMessage, error) {
	if value.Type == 0 {
		return nil, errors.New("document has no result field")
	}
	text, ok := value.StringValueOK()
	if !ok {
		return nil, fmt.Errorf("result field has type %s, want string", value.Type)
	}
	if !json.Valid([]byte(text)) {
		return nil, errors.New("stored result is not valid JSON")
	}
	return json.RawMessage(text), nil
}
