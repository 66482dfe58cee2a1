package directory

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig содержит настройки подключения к справочнику пользователей
type MongoConfig struct {
	URI        string // например mongodb://localhost:27017
	Database   string // например mmo
	Collection string // например users
}

// MongoDirectory реализует UserDirectory поверх MongoDB.
// Ожидает документы с полями username (lowercase, уникальный индекс) и uuid.
type MongoDirectory struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

// NewMongoDirectory устанавливает соединение и возвращает справочник
func NewMongoDirectory(cfg MongoConfig) (*MongoDirectory, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "mmo"
	}
	if cfg.Collection == "" {
		cfg.Collection = "users"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	d := &MongoDirectory{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
	}
	if err := d.ensureIndexes(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *MongoDirectory) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.ctxTimeout)
	defer cancel()
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("username_unique"),
	}
	_, err := d.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{idx})
	return err
}

// ResolveName возвращает UUID игрока по имени
func (d *MongoDirectory) ResolveName(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.ctxTimeout)
	defer cancel()

	var doc struct {
		Username string `bson:"username"`
		UUID     string `bson:"uuid"`
	}
	err := d.collection.FindOne(ctx, bson.M{"username": strings.ToLower(name)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", ErrNameNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.UUID, nil
}

// Close разрывает соединение с MongoDB
func (d *MongoDirectory) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
