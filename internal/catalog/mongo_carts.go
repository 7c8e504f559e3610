package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const cartsCollection = "carts"

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

type cartDocument struct {
	ID            string               `bson:"_id"`
	TenantID      string               `bson:"tenant_id"`
	UserID        string               `bson:"user_id"`
	CustomerEmail string               `bson:"customer_email,omitempty"`
	Items         []domain.CartItem    `bson:"items"`
	Tax           primitive.Decimal128 `bson:"tax"`
	Shipping      primitive.Decimal128 `bson:"shipping"`
	Discount      primitive.Decimal128 `bson:"discount"`
	Currency      string               `bson:"currency"`
	UpdatedAt     time.Time            `bson:"updated_at"`
}

type MongoCartReader struct {
	collection *mongo.Collection
}

func NewMongoCartReader(db *mongo.Database) *MongoCartReader {
	return &MongoCartReader{collection: db.Collection(cartsCollection)}
}

func (m *MongoCartReader) CreateIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "user_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}
	return nil
}

func (m *MongoCartReader) GetCart(ctx context.Context, tenantID, cartID string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": cartID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if doc.TenantID != tenantID {
		return nil, domain.ErrTenantMismatch
	}

	currency := doc.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &domain.Cart{
		ID:            doc.ID,
		TenantID:      doc.TenantID,
		UserID:        doc.UserID,
		CustomerEmail: doc.CustomerEmail,
		Items:         doc.Items,
		Totals: domain.CartTotals{
			Tax:      fromDecimal128(doc.Tax),
			Shipping: fromDecimal128(doc.Shipping),
			Discount: fromDecimal128(doc.Discount),
			Currency: currency,
		},
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// SaveCart upserts a cart document
func (m *MongoCartReader) SaveCart(ctx context.Context, cart *domain.Cart) error {
	doc := cartDocument{
		ID:            cart.ID,
		TenantID:      cart.TenantID,
		UserID:        cart.UserID,
		CustomerEmail: cart.CustomerEmail,
		Items:         cart.Items,
		Tax:           toDecimal128(cart.Totals.Tax),
		Shipping:      toDecimal128(cart.Totals.Shipping),
		Discount:      toDecimal128(cart.Totals.Discount),
		Currency:      cart.Totals.Currency,
		UpdatedAt:     time.Now().UTC(),
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": cart.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

func fromDecimal128(d primitive.Decimal128) decimal.Decimal {
	v, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Zero
	}
	return v
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}
