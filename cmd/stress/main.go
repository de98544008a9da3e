package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
	queueSize     = 100
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	db, closeDB := openStore(ctx, cfg)
	defer closeDB()

	// The checkout lock and cache degrade to no-ops while Redis is down
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("redis unavailable, running without cache until it recovers: %v", err)
	}

	cache := service.NewCache(storage.NewRedisAdapter(rdb), cfg.CacheTimeout, queueSize)
	defer cache.Close()
	go func() {
		for job := range cache.Queue() {
			cache.Process(ctx, job)
		}
	}()

	orderService := service.NewOrderService(db, cache, nil, cfg.StoreTimeout)

	// Seed one product and one buyer per request, each wanting a unit
	now := time.Now().UTC().Truncate(time.Millisecond)
	product := domain.Product{
		ID:          "stress-" + uuid.NewString(),
		SellerID:    "stress-seller",
		Name:        "Stress Item",
		Description: "load test fixture",
		Category:    "stress",
		Price:       decimal.NewFromInt(10),
		Stock:       initialStock,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.InsertProduct(ctx, product); err != nil {
		log.Fatalf("failed to insert product: %v", err)
	}

	buyers := make([]domain.Principal, totalRequests)
	for i := range buyers {
		id := fmt.Sprintf("stress-buyer-%d-%s", i, uuid.NewString()[:8])
		buyers[i] = domain.Principal{ID: id, Role: domain.RoleBuyer}
		err := db.InsertAccount(ctx, domain.Account{
			ID: id, Role: domain.RoleBuyer, Name: id, Login: id, Address: "1 Load St", PasswordHash: "-", CreatedAt: now,
		})
		if err != nil {
			log.Fatalf("failed to insert buyer: %v", err)
		}
		err = db.SaveCart(ctx, domain.Cart{
			BuyerID: id, Items: []domain.CartItem{{ProductID: product.ID, Quantity: 1}}, UpdatedAt: now,
		})
		if err != nil {
			log.Fatalf("failed to seed cart: %v", err)
		}
	}

	// Counters
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var otherCount atomic.Int32

	// Spawn concurrent checkouts
	var wg sync.WaitGroup
	start := time.Now()

	for _, buyer := range buyers {
		wg.Add(1)
		go func(buyer domain.Principal) {
			defer wg.Done()

			_, err := orderService.PlaceOrder(ctx, buyer)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("buyer %s: %v", buyer.ID, err)
			}
		}(buyer)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", cfg.StoreDriver)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == int32(initialStock) && soldOut == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d sold out\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	// Verify final stock in the store
	final, err := db.FindProduct(ctx, product.ID)
	if err != nil || final == nil {
		log.Fatalf("failed to reload product: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", final.Stock)

	if final.Stock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", final.Stock)
	}
}

func openStore(ctx context.Context, cfg config.Config) (port.DatabaseRepository, func()) {
	switch cfg.StoreDriver {
	case "mysql":
		if err := storage.MigrateMySQL(ctx, cfg.MySQLDSN); err != nil {
			log.Fatalf("failed to migrate mysql: %v", err)
		}
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		db.SetMaxOpenConns(totalRequests)
		return storage.NewMySQLAdapter(db), func() { db.Close() }
	default:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect mongo: %v", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			log.Fatalf("failed to ping mongo: %v", err)
		}
		adapter := storage.NewMongoAdapter(client.Database(cfg.MongoDB))
		if err := adapter.EnsureIndexes(ctx); err != nil {
			log.Fatalf("failed to create indexes: %v", err)
		}
		return adapter, func() { client.Disconnect(context.Background()) }
	}
}
