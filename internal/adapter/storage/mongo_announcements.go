package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/storefront/internal/core/domain"
)

type announcementDoc struct {
	ID        string    `bson:"_id"`
	SellerID  string    `bson:"sellerId"`
	Title     string    `bson:"title"`
	Message   string    `bson:"message"`
	Kind      string    `bson:"type"`
	Priority  string    `bson:"priority"`
	ProductID string    `bson:"productId,omitempty"`
	Link      string    `bson:"link,omitempty"`
	Sent      int       `bson:"sent"`
	Reads     int       `bson:"reads"`
	CreatedAt time.Time `bson:"createdAt"`
}

func (d announcementDoc) announcement() domain.Announcement {
	return domain.Announcement{
		ID:        d.ID,
		SellerID:  d.SellerID,
		Title:     d.Title,
		Message:   d.Message,
		Kind:      domain.AnnouncementKind(d.Kind),
		Priority:  domain.Priority(d.Priority),
		ProductID: d.ProductID,
		Link:      d.Link,
		Sent:      d.Sent,
		Reads:     d.Reads,
		CreatedAt: d.CreatedAt,
	}
}

type readDoc struct {
	BuyerID        string    `bson:"buyerId"`
	AnnouncementID string    `bson:"announcementId"`
	ReadAt         time.Time `bson:"readAt"`
}

type kindPreferencesDoc struct {
	Announcements bool `bson:"announcements"`
	Promotions    bool `bson:"promotions"`
	Updates       bool `bson:"updates"`
	Alerts        bool `bson:"alerts"`
}

type preferencesDoc struct {
	BuyerID      string             `bson:"_id"`
	Enabled      bool               `bson:"enableNotifications"`
	Kinds        kindPreferencesDoc `bson:"preferences"`
	MutedSellers []string           `bson:"mutedSellers"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func (m *MongoAdapter) InsertAnnouncement(ctx context.Context, a domain.Announcement) error {
	_, err := m.announcements.InsertOne(ctx, announcementDoc{
		ID:        a.ID,
		SellerID:  a.SellerID,
		Title:     a.Title,
		Message:   a.Message,
		Kind:      string(a.Kind),
		Priority:  string(a.Priority),
		ProductID: a.ProductID,
		Link:      a.Link,
		Sent:      a.Sent,
		Reads:     a.Reads,
		CreatedAt: a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert announcement: %w", err)
	}
	return nil
}

func (m *MongoAdapter) FindAnnouncement(ctx context.Context, id string) (*domain.Announcement, error) {
	var doc announcementDoc
	err := m.announcements.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find announcement: %w", err)
	}
	a := doc.announcement()
	return &a, nil
}

func (m *MongoAdapter) ListAnnouncements(ctx context.Context, filter domain.AnnouncementFilter) ([]domain.Announcement, int64, error) {
	query := bson.M{}
	seller := bson.M{}
	if filter.SellerID != "" {
		seller["$eq"] = filter.SellerID
	}
	if len(filter.ExcludeSellers) > 0 {
		seller["$nin"] = filter.ExcludeSellers
	}
	if len(seller) > 0 {
		query["sellerId"] = seller
	}
	if len(filter.Kinds) > 0 {
		kinds := make(bson.A, 0, len(filter.Kinds))
		for _, k := range filter.Kinds {
			kinds = append(kinds, string(k))
		}
		query["type"] = bson.M{"$in": kinds}
	}

	total, err := m.announcements.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count announcements: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if filter.Limit > 0 {
		opts.SetSkip(int64(filter.Offset)).SetLimit(int64(filter.Limit))
	}
	cursor, err := m.announcements.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find announcements: %w", err)
	}
	var docs []announcementDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode announcements: %w", err)
	}

	out := make([]domain.Announcement, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.announcement())
	}
	return out, total, nil
}

func (m *MongoAdapter) DeleteAnnouncement(ctx context.Context, sellerID, id string) (bool, error) {
	result, err := m.announcements.DeleteOne(ctx, bson.M{"_id": id, "sellerId": sellerID})
	if err != nil {
		return false, fmt.Errorf("delete announcement: %w", err)
	}
	if result.DeletedCount == 0 {
		return false, nil
	}
	if _, err := m.reads.DeleteMany(ctx, bson.M{"announcementId": id}); err != nil {
		return true, fmt.Errorf("delete announcement reads: %w", err)
	}
	return true, nil
}

func (m *MongoAdapter) RecordAnnouncementSent(ctx context.Context, id string, sent int) error {
	_, err := m.announcements.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"sent": sent}})
	if err != nil {
		return fmt.Errorf("record announcement sent: %w", err)
	}
	return nil
}

// MarkAnnouncementRead relies on the unique (buyerId, announcementId) index
// so only the first read bumps the counter.
func (m *MongoAdapter) MarkAnnouncementRead(ctx context.Context, buyerID, id string, at time.Time) (bool, error) {
	_, err := m.reads.InsertOne(ctx, readDoc{BuyerID: buyerID, AnnouncementID: id, ReadAt: at})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert announcement read: %w", err)
	}

	if _, err := m.announcements.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"reads": 1}}); err != nil {
		return true, fmt.Errorf("bump read count: %w", err)
	}
	return true, nil
}

func (m *MongoAdapter) ReadAnnouncements(ctx context.Context, buyerID string, ids []string) (map[string]bool, error) {
	read := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return read, nil
	}

	cursor, err := m.reads.Find(ctx, bson.M{"buyerId": buyerID, "announcementId": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find announcement reads: %w", err)
	}
	var docs []readDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode announcement reads: %w", err)
	}
	for _, d := range docs {
		read[d.AnnouncementID] = true
	}
	return read, nil
}

func (m *MongoAdapter) FindNotificationPreferences(ctx context.Context, buyerID string) (*domain.NotificationPreferences, error) {
	var doc preferencesDoc
	err := m.preferences.FindOne(ctx, bson.M{"_id": buyerID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find notification preferences: %w", err)
	}

	muted := doc.MutedSellers
	if muted == nil {
		muted = []string{}
	}
	return &domain.NotificationPreferences{
		BuyerID: doc.BuyerID,
		Enabled: doc.Enabled,
		Kinds: domain.KindPreferences{
			Announcements: doc.Kinds.Announcements,
			Promotions:    doc.Kinds.Promotions,
			Updates:       doc.Kinds.Updates,
			Alerts:        doc.Kinds.Alerts,
		},
		MutedSellers: muted,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

func (m *MongoAdapter) SaveNotificationPreferences(ctx context.Context, p domain.NotificationPreferences) error {
	muted := p.MutedSellers
	if muted == nil {
		muted = []string{}
	}
	doc := preferencesDoc{
		BuyerID: p.BuyerID,
		Enabled: p.Enabled,
		Kinds: kindPreferencesDoc{
			Announcements: p.Kinds.Announcements,
			Promotions:    p.Kinds.Promotions,
			Updates:       p.Kinds.Updates,
			Alerts:        p.Kinds.Alerts,
		},
		MutedSellers: muted,
		UpdatedAt:    p.UpdatedAt,
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.preferences.ReplaceOne(ctx, bson.M{"_id": p.BuyerID}, doc, opts); err != nil {
		return fmt.Errorf("save notification preferences: %w", err)
	}
	return nil
}
