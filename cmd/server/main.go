package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/notify"
	"github.com/rl1809/storefront/internal/adapter/security"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()

	// Initialize primary store
	db, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StoreDriver, err)
	}
	log.Printf("connected to %s", cfg.StoreDriver)

	// Initialize Redis; the cache reads through while it is down and picks it
	// up again once it answers
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("redis unavailable at startup, reading through until it recovers: %v", err)
	} else {
		log.Println("connected to redis")
	}

	cache := service.NewCache(storage.NewRedisAdapter(rdb), cfg.CacheTimeout, cfg.InvalidationQueue)

	// Initialize adapters
	identity := security.NewJWTIdentity(cfg.JWTSecret, cfg.TokenTTL)
	hasher := security.NewBcryptHasher(bcrypt.DefaultCost)
	hub := notify.NewHub(identity, nil)

	// Initialize services
	ttl := service.CacheTTLs{
		ProductList:   cfg.ProductListTTL,
		ProductDetail: cfg.ProductDetailTTL,
		Search:        cfg.SearchTTL,
	}
	orderService := service.NewOrderService(db, cache, hub, cfg.StoreTimeout)
	accountService := service.NewAccountService(db, identity, hasher, cfg.StoreTimeout)
	services := handler.Services{
		Orders:        orderService,
		Carts:         service.NewCartService(db, cfg.StoreTimeout),
		Catalog:       service.NewCatalogService(db, cache, ttl, cfg.StoreTimeout),
		Search:        service.NewSearchService(db, cache, cfg.SearchTTL, cfg.StoreTimeout),
		Accounts:      accountService,
		Announcements: service.NewAnnouncementService(db, hub, cfg.StoreTimeout),
	}

	if err := accountService.EnsureAdmin(ctx, cfg.AdminLogin, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to seed admin account: %v", err)
	}

	// Start cache invalidation workers
	var wg sync.WaitGroup
	for i := 0; i < cfg.InvalidationWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, cache)
		}(i)
	}
	log.Printf("started %d invalidation workers", cfg.InvalidationWorkers)

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(orderService, identity))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(services, identity)
	router := httpHandler.Routes(handler.NewRateLimiter(cfg.RateLimit, cfg.RateBurst), hub.ServeWS)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(router)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Logging(handler.SecurityHeaders(corsHandler)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpServer.RegisterOnShutdown(hub.Close)

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Println("HTTP server stopped")

	// Stop gRPC server
	grpcServer.GracefulStop()
	log.Println("gRPC server stopped")

	// Close invalidation queue and wait for workers
	cache.Close()
	wg.Wait()
	log.Println("workers stopped")

	// Close connections
	rdb.Close()
	closeDB()
	log.Println("connections closed")
}

// openStore connects the configured primary store and returns it with its
// closer.
func openStore(ctx context.Context, cfg config.Config) (port.DatabaseRepository, func(), error) {
	switch cfg.StoreDriver {
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx, nil); err != nil {
			client.Disconnect(context.Background())
			return nil, nil, err
		}

		adapter := storage.NewMongoAdapter(client.Database(cfg.MongoDB))
		if err := adapter.EnsureIndexes(ctx); err != nil {
			client.Disconnect(context.Background())
			return nil, nil, err
		}
		return adapter, func() { client.Disconnect(context.Background()) }, nil

	case "mysql":
		if err := storage.MigrateMySQL(ctx, cfg.MySQLDSN); err != nil {
			return nil, nil, err
		}

		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return storage.NewMySQLAdapter(db), func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func workerLoop(id int, cache *service.Cache) {
	for job := range cache.Queue() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		cache.Process(ctx, job)
		cancel()
	}
	log.Printf("worker %d: invalidation queue closed", id)
}
