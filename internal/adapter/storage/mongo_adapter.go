package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/storefront/internal/core/domain"
)

type productDoc struct {
	ID          string               `bson:"_id"`
	SellerID    string               `bson:"sellerId"`
	Name        string               `bson:"name"`
	Description string               `bson:"description"`
	Category    string               `bson:"category"`
	Brand       string               `bson:"brand,omitempty"`
	Image       string               `bson:"image,omitempty"`
	Price       primitive.Decimal128 `bson:"price"`
	Stock       int                  `bson:"stock"`
	Active      bool                 `bson:"active"`
	CreatedAt   time.Time            `bson:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt"`
}

type cartItemDoc struct {
	ProductID string `bson:"productId"`
	Quantity  int    `bson:"quantity"`
}

type cartDoc struct {
	BuyerID   string        `bson:"_id"`
	Items     []cartItemDoc `bson:"items"`
	UpdatedAt time.Time     `bson:"updatedAt"`
}

type orderItemDoc struct {
	ProductID string               `bson:"productId"`
	SellerID  string               `bson:"sellerId"`
	Name      string               `bson:"name"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unitPrice"`
}

type orderDoc struct {
	ID              string               `bson:"_id"`
	BuyerID         string               `bson:"buyerId"`
	Items           []orderItemDoc       `bson:"items"`
	TotalPrice      primitive.Decimal128 `bson:"totalPrice"`
	Status          string               `bson:"status"`
	ShippingAddress string               `bson:"shippingAddress"`
	CreatedAt       time.Time            `bson:"createdAt"`
	UpdatedAt       time.Time            `bson:"updatedAt"`
	DeliveredAt     *time.Time           `bson:"deliveredAt,omitempty"`
}

type accountDoc struct {
	ID           string    `bson:"_id"`
	Role         string    `bson:"role"`
	Name         string    `bson:"name"`
	Login        string    `bson:"login"`
	Address      string    `bson:"address,omitempty"`
	PasswordHash string    `bson:"passwordHash"`
	CreatedAt    time.Time `bson:"createdAt"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %s: %w", v, err)
	}
	return d, nil
}

func newProductDoc(p domain.Product) (productDoc, error) {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return productDoc{}, err
	}
	return productDoc{
		ID:          p.ID,
		SellerID:    p.SellerID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Brand:       p.Brand,
		Image:       p.Image,
		Price:       price,
		Stock:       p.Stock,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func (d productDoc) product() (domain.Product, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:          d.ID,
		SellerID:    d.SellerID,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		Brand:       d.Brand,
		Image:       d.Image,
		Price:       price,
		Stock:       d.Stock,
		Active:      d.Active,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

func newOrderDoc(o domain.Order) (orderDoc, error) {
	items := make([]orderItemDoc, 0, len(o.Items))
	for _, item := range o.Items {
		unitPrice, err := toDecimal128(item.UnitPrice)
		if err != nil {
			return orderDoc{}, err
		}
		items = append(items, orderItemDoc{
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: unitPrice,
		})
	}
	total, err := toDecimal128(o.TotalPrice)
	if err != nil {
		return orderDoc{}, err
	}
	return orderDoc{
		ID:              o.ID,
		BuyerID:         o.BuyerID,
		Items:           items,
		TotalPrice:      total,
		Status:          string(o.Status),
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		DeliveredAt:     o.DeliveredAt,
	}, nil
}

func (d orderDoc) order() (domain.Order, error) {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		unitPrice, err := fromDecimal128(item.UnitPrice)
		if err != nil {
			return domain.Order{}, err
		}
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: unitPrice,
		})
	}
	total, err := fromDecimal128(d.TotalPrice)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		ID:              d.ID,
		BuyerID:         d.BuyerID,
		Items:           items,
		TotalPrice:      total,
		Status:          domain.OrderStatus(d.Status),
		ShippingAddress: d.ShippingAddress,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		DeliveredAt:     d.DeliveredAt,
	}, nil
}

func (d accountDoc) account() *domain.Account {
	return &domain.Account{
		ID:           d.ID,
		Role:         domain.Role(d.Role),
		Name:         d.Name,
		Login:        d.Login,
		Address:      d.Address,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
	}
}

// MongoAdapter stores every aggregate in its own collection keyed by the
// domain id.
type MongoAdapter struct {
	products      *mongo.Collection
	carts         *mongo.Collection
	orders        *mongo.Collection
	accounts      *mongo.Collection
	announcements *mongo.Collection
	reads         *mongo.Collection
	preferences   *mongo.Collection
}

func NewMongoAdapter(db *mongo.Database) *MongoAdapter {
	return &MongoAdapter{
		products:      db.Collection("products"),
		carts:         db.Collection("carts"),
		orders:        db.Collection("orders"),
		accounts:      db.Collection("accounts"),
		announcements: db.Collection("announcements"),
		reads:         db.Collection("announcement_reads"),
		preferences:   db.Collection("notification_preferences"),
	}
}

func (m *MongoAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{m.products, []mongo.IndexModel{
			{Keys: bson.D{{Key: "sellerId", Value: 1}}},
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "category", Value: 1}}},
		}},
		{m.orders, []mongo.IndexModel{
			{Keys: bson.D{{Key: "buyerId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "items.sellerId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		}},
		{m.accounts, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "role", Value: 1}, {Key: "login", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		}},
		{m.announcements, []mongo.IndexModel{
			{Keys: bson.D{{Key: "sellerId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		}},
		{m.reads, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "buyerId", Value: 1}, {Key: "announcementId", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "announcementId", Value: 1}}},
		}},
	}
	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateMany(ctx, ix.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", ix.coll.Name(), err)
		}
	}
	return nil
}

func containsRegex(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

func (m *MongoAdapter) findProducts(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]domain.Product, error) {
	cursor, err := m.products.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}

	products := make([]domain.Product, 0, len(docs))
	for _, d := range docs {
		p, err := d.product()
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func (m *MongoAdapter) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	var doc productDoc
	err := m.products.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	p, err := doc.product()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *MongoAdapter) FindProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return m.findProducts(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (m *MongoAdapter) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	query := bson.M{}
	if filter.ActiveOnly {
		query["active"] = true
	}
	if filter.SellerID != "" {
		query["sellerId"] = filter.SellerID
	}
	if filter.Category != "" {
		query["category"] = containsRegex(filter.Category)
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return m.findProducts(ctx, query, opts)
}

func (m *MongoAdapter) SearchProducts(ctx context.Context, term string, limit int) ([]domain.Product, error) {
	re := containsRegex(term)
	query := bson.M{
		"active": true,
		"$or": bson.A{
			bson.M{"name": re},
			bson.M{"description": re},
			bson.M{"category": re},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}}).SetLimit(int64(limit))
	return m.findProducts(ctx, query, opts)
}

func (m *MongoAdapter) InsertProduct(ctx context.Context, p domain.Product) error {
	doc, err := newProductDoc(p)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	if _, err := m.products.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (m *MongoAdapter) UpdateSellerProducts(ctx context.Context, sellerID string, ids []string, patch domain.ProductPatch) (int64, error) {
	if len(ids) == 0 || patch.IsEmpty() {
		return 0, nil
	}

	set := bson.M{"updatedAt": time.Now()}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.Category != nil {
		set["category"] = *patch.Category
	}
	if patch.Brand != nil {
		set["brand"] = *patch.Brand
	}
	if patch.Image != nil {
		set["image"] = *patch.Image
	}
	if patch.Price != nil {
		price, err := toDecimal128(*patch.Price)
		if err != nil {
			return 0, fmt.Errorf("update products: %w", err)
		}
		set["price"] = price
	}
	if patch.Stock != nil {
		set["stock"] = *patch.Stock
	}
	if patch.Active != nil {
		set["active"] = *patch.Active
	}

	result, err := m.products.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "sellerId": sellerID},
		bson.M{"$set": set},
	)
	if err != nil {
		return 0, fmt.Errorf("update products: %w", err)
	}
	return result.MatchedCount, nil
}

// DecrementStock matches only while enough stock is left, so the check and
// the write are one atomic document update.
func (m *MongoAdapter) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	result, err := m.products.UpdateOne(ctx,
		bson.M{"_id": productID, "stock": bson.M{"$gte": quantity}},
		bson.M{
			"$inc": bson.M{"stock": -quantity},
			"$set": bson.M{"updatedAt": time.Now()},
		},
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (m *MongoAdapter) IncrementStock(ctx context.Context, productID string, quantity int) error {
	result, err := m.products.UpdateOne(ctx,
		bson.M{"_id": productID},
		bson.M{
			"$inc": bson.M{"stock": quantity},
			"$set": bson.M{"updatedAt": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (m *MongoAdapter) FindCart(ctx context.Context, buyerID string) (*domain.Cart, error) {
	var doc cartDoc
	err := m.carts.FindOne(ctx, bson.M{"_id": buyerID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find cart: %w", err)
	}

	cart := &domain.Cart{BuyerID: doc.BuyerID, Items: make([]domain.CartItem, 0, len(doc.Items)), UpdatedAt: doc.UpdatedAt}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return cart, nil
}

func (m *MongoAdapter) SaveCart(ctx context.Context, cart domain.Cart) error {
	doc := cartDoc{BuyerID: cart.BuyerID, Items: make([]cartItemDoc, 0, len(cart.Items)), UpdatedAt: cart.UpdatedAt}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDoc{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.carts.ReplaceOne(ctx, bson.M{"_id": cart.BuyerID}, doc, opts); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (m *MongoAdapter) ClearCart(ctx context.Context, buyerID string) error {
	_, err := m.carts.UpdateOne(ctx,
		bson.M{"_id": buyerID},
		bson.M{"$set": bson.M{"items": bson.A{}, "updatedAt": time.Now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (m *MongoAdapter) InsertOrder(ctx context.Context, order domain.Order) error {
	doc, err := newOrderDoc(order)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if _, err := m.orders.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (m *MongoAdapter) FindOrder(ctx context.Context, id string) (*domain.Order, error) {
	var doc orderDoc
	err := m.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	o, err := doc.order()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (m *MongoAdapter) findOrders(ctx context.Context, filter bson.M, limit int) ([]domain.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := m.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}
	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, d := range docs {
		o, err := d.order()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (m *MongoAdapter) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	return m.findOrders(ctx, bson.M{"buyerId": buyerID}, 0)
}

func (m *MongoAdapter) ListOrdersBySeller(ctx context.Context, sellerID string) ([]domain.Order, error) {
	return m.findOrders(ctx, bson.M{"items.sellerId": sellerID}, 0)
}

func (m *MongoAdapter) ListRecentOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	return m.findOrders(ctx, bson.M{}, limit)
}

func (m *MongoAdapter) UpdateOrderStatus(ctx context.Context, change domain.StatusChange) (bool, error) {
	set := bson.M{"status": string(change.To), "updatedAt": change.At}
	if change.DeliveredAt != nil {
		set["deliveredAt"] = *change.DeliveredAt
	}

	result, err := m.orders.UpdateOne(ctx,
		bson.M{"_id": change.OrderID, "status": string(change.From)},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (m *MongoAdapter) findAccount(ctx context.Context, filter bson.M) (*domain.Account, error) {
	var doc accountDoc
	err := m.accounts.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return doc.account(), nil
}

func (m *MongoAdapter) FindAccount(ctx context.Context, id string) (*domain.Account, error) {
	return m.findAccount(ctx, bson.M{"_id": id})
}

func (m *MongoAdapter) FindAccountByLogin(ctx context.Context, role domain.Role, login string) (*domain.Account, error) {
	return m.findAccount(ctx, bson.M{"role": string(role), "login": login})
}

func (m *MongoAdapter) InsertAccount(ctx context.Context, a domain.Account) error {
	_, err := m.accounts.InsertOne(ctx, accountDoc{
		ID:           a.ID,
		Role:         string(a.Role),
		Name:         a.Name,
		Login:        a.Login,
		Address:      a.Address,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}
