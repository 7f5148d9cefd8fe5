package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-events/internal/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionNotifications = "notifications"

type notificationDoc struct {
	ID        string    `bson:"_id"`
	Recipient string    `bson:"recipient"`
	Type      string    `bson:"type"`
	Message   string    `bson:"message"`
	OrderID   string    `bson:"order_id,omitempty"`
	Read      bool      `bson:"read"`
	CreatedAt time.Time `bson:"created_at"`
}

func toNotificationDoc(n *domain.Notification) notificationDoc {
	doc := notificationDoc{
		ID:        n.ID.String(),
		Recipient: n.Recipient,
		Type:      string(n.Type),
		Message:   n.Message,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
	if n.OrderID != nil {
		doc.OrderID = n.OrderID.String()
	}
	return doc
}

func (d notificationDoc) toDomain() (domain.Notification, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("decode notification id: %w", err)
	}
	n := domain.Notification{
		ID:        id,
		Recipient: d.Recipient,
		Type:      domain.NotificationType(d.Type),
		Message:   d.Message,
		Read:      d.Read,
		CreatedAt: d.CreatedAt,
	}
	if d.OrderID != "" {
		orderID, err := uuid.Parse(d.OrderID)
		if err != nil {
			return domain.Notification{}, fmt.Errorf("decode notification order id: %w", err)
		}
		n.OrderID = &orderID
	}
	return n, nil
}

type mongoNotificationRepo struct {
	collection *mongo.Collection
}

// NewMongoNotificationRepo stores notifications as documents in db.
func NewMongoNotificationRepo(db *mongo.Database) NotificationRepo {
	return &mongoNotificationRepo{collection: db.Collection(CollectionNotifications)}
}

// EnsureNotificationIndexes creates the index backing newest-first listing.
func EnsureNotificationIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(CollectionNotifications).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "created_at", Value: -1}},
	})
	return err
}

func (r *mongoNotificationRepo) Append(ctx context.Context, n *domain.Notification) error {
	_, err := r.collection.InsertOne(ctx, toNotificationDoc(n))
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert notification to Mongo: %w", err)
	}
	return nil
}

func (r *mongoNotificationRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	var doc notificationDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	n, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *mongoNotificationRepo) List(ctx context.Context, q domain.NotificationQuery) (domain.NotificationPage, error) {
	filter := bson.M{"recipient": q.Recipient}
	switch q.Filter {
	case domain.FilterUnread:
		filter["read"] = false
	case domain.FilterRead:
		filter["read"] = true
	case domain.FilterBroadcast:
		filter["type"] = string(domain.NotificationBroadcast)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(q.Offset())).
		SetLimit(int64(q.PageSize + 1))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return domain.NotificationPage{}, err
	}
	var docs []notificationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return domain.NotificationPage{}, err
	}

	page := domain.NotificationPage{Items: make([]domain.Notification, 0, len(docs))}
	for _, doc := range docs {
		n, err := doc.toDomain()
		if err != nil {
			return domain.NotificationPage{}, err
		}
		page.Items = append(page.Items, n)
	}
	if len(page.Items) > q.PageSize {
		page.Items = page.Items[:q.PageSize]
		page.HasMore = true
	}
	return page, nil
}

func (r *mongoNotificationRepo) MarkRead(ctx context.Context, id uuid.UUID) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id.String(), "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	return err
}

func (r *mongoNotificationRepo) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	res, err := r.collection.UpdateMany(ctx,
		bson.M{"recipient": recipient, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *mongoNotificationRepo) ClearAll(ctx context.Context, recipient string) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"recipient": recipient})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *mongoNotificationRepo) UnreadCount(ctx context.Context, recipient string) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"recipient": recipient, "read": false})
}
