package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ordersCollection          = "orders"
	processedEventsCollection = "processed_events"
)

// MongoStore keeps each order as a single document
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

type orderDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Customer   customerDocument   `bson:"customer"`
	Items      []itemDocument     `bson:"items"`
	TotalItems int                `bson:"totalItems"`
	TotalPrice string             `bson:"totalPrice"`
	Status     string             `bson:"status"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

type customerDocument struct {
	Name    string `bson:"name"`
	Email   string `bson:"email"`
	Phone   string `bson:"phone"`
	Address string `bson:"address"`
	City    string `bson:"city"`
	ZipCode string `bson:"zipCode"`
}

type itemDocument struct {
	ID       int64  `bson:"id"`
	Title    string `bson:"title"`
	Price    string `bson:"price"`
	Image    string `bson:"image"`
	Quantity int    `bson:"quantity"`
}

// NewMongoStore connects to uri and uses database
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoStore{
		client: client,
		db:     client.Database(database),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close disconnects from MongoDB
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// Ping checks the MongoDB connection
func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// CreateOrder inserts the order document. The id is a fresh ObjectID and
// createdAt is stamped by the server.
func (m *MongoStore) CreateOrder(ctx context.Context, order *models.Order) error {
	oid := primitive.NewObjectID()

	var created orderDocument
	err := m.db.Collection(ordersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		newOrderUpdate(toOrderDocument(order)),
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After).
			SetProjection(bson.M{"createdAt": 1}),
	).Decode(&created)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	order.ID = oid.Hex()
	order.CreatedAt = created.CreatedAt
	return nil
}

// newOrderUpdate builds the upsert that writes doc and lets the server set
// createdAt
func newOrderUpdate(doc orderDocument) bson.M {
	return bson.M{
		"$setOnInsert": bson.M{
			"customer":   doc.Customer,
			"items":      doc.Items,
			"totalItems": doc.TotalItems,
			"totalPrice": doc.TotalPrice,
			"status":     doc.Status,
		},
		"$currentDate": bson.M{"createdAt": true},
	}
}

// GetOrderByID retrieves an order document
func (m *MongoStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrOrderNotFound
	}

	var doc orderDocument
	err = m.db.Collection(ordersCollection).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return doc.toModel()
}

// IsEventProcessed checks if an event has been processed
func (m *MongoStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := m.db.Collection(processedEventsCollection).CountDocuments(ctx, bson.M{"_id": eventID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkEventProcessed marks an event as processed
func (m *MongoStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := m.db.Collection(processedEventsCollection).UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{"$setOnInsert": bson.M{"event_type": eventType, "processed_at": m.now()}},
		options.Update().SetUpsert(true))
	return err
}

func toOrderDocument(order *models.Order) orderDocument {
	items := make([]itemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = itemDocument{
			ID:       item.ID,
			Title:    item.Title,
			Price:    item.Price.String(),
			Image:    item.Image,
			Quantity: item.Quantity,
		}
	}

	c := order.Customer
	return orderDocument{
		Customer: customerDocument{
			Name:    c.Name,
			Email:   c.Email,
			Phone:   c.Phone,
			Address: c.Address,
			City:    c.City,
			ZipCode: c.ZipCode,
		},
		Items:      items,
		TotalItems: order.TotalItems,
		TotalPrice: order.TotalPrice.String(),
		Status:     order.Status,
	}
}

func (d orderDocument) toModel() (*models.Order, error) {
	total, err := decimal.NewFromString(d.TotalPrice)
	if err != nil {
		return nil, fmt.Errorf("bad total price %q: %w", d.TotalPrice, err)
	}

	items := make([]models.CartLineItem, len(d.Items))
	for i, item := range d.Items {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return nil, fmt.Errorf("bad price %q for item %d: %w", item.Price, item.ID, err)
		}
		items[i] = models.CartLineItem{
			ID:       item.ID,
			Title:    item.Title,
			Price:    price,
			Image:    item.Image,
			Quantity: item.Quantity,
		}
	}

	return &models.Order{
		ID: d.ID.Hex(),
		Customer: models.Customer{
			Name:    d.Customer.Name,
			Email:   d.Customer.Email,
			Phone:   d.Customer.Phone,
			Address: d.Customer.Address,
			City:    d.Customer.City,
			ZipCode: d.Customer.ZipCode,
		},
		Items:      items,
		TotalItems: d.TotalItems,
		TotalPrice: total,
		Status:     d.Status,
		CreatedAt:  d.CreatedAt,
	}, nil
}
