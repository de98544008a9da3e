package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/rl1809/storefront/internal/adapter/invoice"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

const maxBodyBytes = 1 << 20

// Services groups the use cases served over HTTP.
type Services struct {
	Orders        *service.OrderService
	Carts         *service.CartService
	Catalog       *service.CatalogService
	Search        *service.SearchService
	Accounts      *service.AccountService
	Announcements *service.AnnouncementService
}

type HTTPHandler struct {
	svc      Services
	identity port.IdentityProvider
}

func NewHTTPHandler(svc Services, identity port.IdentityProvider) *HTTPHandler {
	return &HTTPHandler{svc: svc, identity: identity}
}

// Routes builds the router. ws serves the notification socket and may be nil.
func (h *HTTPHandler) Routes(limiter *RateLimiter, ws httprouter.Handle) *httprouter.Router {
	auth := func(next httprouter.Handle) httprouter.Handle {
		return limiter.Limit(Authenticate(h.identity, next))
	}
	optional := func(next httprouter.Handle) httprouter.Handle {
		return limiter.Limit(OptionalAuth(h.identity, next))
	}

	router := httprouter.New()
	router.GET("/health", h.HealthCheck)

	router.POST("/api/auth/register", limiter.Limit(h.Register))
	router.POST("/api/auth/login", limiter.Limit(h.Login))

	router.GET("/api/products", optional(h.ListProducts))
	router.POST("/api/products", auth(h.CreateProduct))
	router.GET("/api/products/:id", optional(h.GetProduct))
	router.PUT("/api/products/:id", auth(h.UpdateProduct))
	router.PUT("/api/products/:id/stock", auth(h.SetStock))
	router.PUT("/api/products/:id/active", auth(h.SetActive))

	router.GET("/api/seller/products", auth(h.SellerProducts))
	router.POST("/api/seller/products/bulk", auth(h.BulkUpdate))
	router.GET("/api/seller/orders", auth(h.SellerOrders))
	router.POST("/api/seller/announcements", auth(h.Announce))
	router.GET("/api/seller/announcements", auth(h.SellerAnnouncements))
	router.DELETE("/api/seller/announcements/:id", auth(h.DeleteAnnouncement))

	router.GET("/api/notifications", auth(h.NotificationFeed))
	router.POST("/api/notifications/:id/read", auth(h.MarkNotificationRead))
	router.GET("/api/notification-preferences", auth(h.NotificationPreferences))
	router.PUT("/api/notification-preferences", auth(h.UpdateNotificationPreferences))
	router.POST("/api/notification-preferences/mute/:sellerId", auth(h.MuteSeller))

	router.GET("/api/cart", auth(h.GetCart))
	router.POST("/api/cart", auth(h.AddToCart))
	router.DELETE("/api/cart", auth(h.ClearCart))
	router.PUT("/api/cart/:productId", auth(h.SetCartQuantity))
	router.DELETE("/api/cart/:productId", auth(h.RemoveFromCart))

	router.GET("/api/orders", auth(h.ListOrders))
	router.POST("/api/orders", auth(h.PlaceOrder))
	router.GET("/api/orders/:id", auth(h.GetOrder))
	router.PATCH("/api/orders/:id/cancel", auth(h.CancelOrder))
	router.PATCH("/api/orders/:id/status", auth(h.UpdateOrderStatus))
	router.GET("/api/orders/:id/invoice", auth(h.Invoice))

	router.GET("/api/search", optional(h.Search))
	router.GET("/api/search/recent", auth(h.RecentSearches))
	router.DELETE("/api/search/recent", auth(h.ClearRecentSearches))
	router.GET("/api/search/recently-viewed", auth(h.RecentlyViewed))

	if ws != nil {
		router.GET("/ws", ws)
	}
	return router
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.NewValidationError("body", "invalid request body")
	}
	return nil
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Role     string `json:"role"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (h *HTTPHandler) Register(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req service.Registration
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if role, ok := domain.ParseRole(string(req.Role)); ok {
		req.Role = role
	}

	session, err := h.svc.Accounts.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	role, ok := domain.ParseRole(req.Role)
	if !ok {
		writeError(w, domain.NewValidationError("role", "unknown role"))
		return
	}

	session, err := h.svc.Accounts.Login(r.Context(), role, req.Login, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type productsResponse struct {
	Products []domain.Product `json:"products"`
	Count    int              `json:"count"`
	Cached   bool             `json:"cached"`
}

type productResponse struct {
	Product *domain.Product `json:"product"`
	Cached  bool            `json:"cached"`
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	products, cached, err := h.svc.Catalog.ListProducts(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, productsResponse{Products: products, Count: len(products), Cached: cached})
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	product, cached, err := h.svc.Catalog.GetProduct(r.Context(), ps.ByName("id"), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, productResponse{Product: product, Cached: cached})
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req service.NewProduct
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	product, err := h.svc.Catalog.CreateProduct(r.Context(), PrincipalFrom(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var patch domain.ProductPatch
	if err := decode(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}

	product, err := h.svc.Catalog.UpdateProduct(r.Context(), PrincipalFrom(r.Context()), ps.ByName("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) SetStock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req struct {
		Stock *int `json:"stock"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Stock == nil {
		writeError(w, domain.NewValidationError("stock", "is required"))
		return
	}

	product, err := h.svc.Catalog.SetStock(r.Context(), PrincipalFrom(r.Context()), ps.ByName("id"), *req.Stock)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) SetActive(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req struct {
		Active *bool `json:"isActive"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Active == nil {
		writeError(w, domain.NewValidationError("isActive", "is required"))
		return
	}

	product, err := h.svc.Catalog.SetActive(r.Context(), PrincipalFrom(r.Context()), ps.ByName("id"), *req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) SellerProducts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	products, err := h.svc.Catalog.ListSellerProducts(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, productsResponse{Products: products, Count: len(products)})
}

func (h *HTTPHandler) BulkUpdate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req domain.BulkUpdate
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.svc.Catalog.BulkUpdate(r.Context(), PrincipalFrom(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *HTTPHandler) SellerOrders(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	orders, err := h.svc.Orders.ListSellerOrders(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) Announce(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req service.AnnouncementInput
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	announcement, delivered, err := h.svc.Announcements.Announce(r.Context(), PrincipalFrom(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"announcement": announcement, "delivered": delivered})
}

// pageRequest reads ?page= and ?limit=; bad values fall back to defaults.
func pageRequest(r *http.Request) domain.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(strings.TrimSpace(q.Get("page")))
	limit, _ := strconv.Atoi(strings.TrimSpace(q.Get("limit")))
	return domain.PageRequest{Page: page, Limit: limit}.Normalized()
}

func (h *HTTPHandler) SellerAnnouncements(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sent, err := h.svc.Announcements.SellerAnnouncements(r.Context(), PrincipalFrom(r.Context()), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sent)
}

func (h *HTTPHandler) DeleteAnnouncement(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.svc.Announcements.Delete(r.Context(), PrincipalFrom(r.Context()), ps.ByName("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) NotificationFeed(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	feed, err := h.svc.Announcements.Feed(r.Context(), PrincipalFrom(r.Context()), pageRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (h *HTTPHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.svc.Announcements.MarkRead(r.Context(), PrincipalFrom(r.Context()), ps.ByName("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) NotificationPreferences(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	prefs, err := h.svc.Announcements.Preferences(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *HTTPHandler) UpdateNotificationPreferences(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req domain.PreferencesUpdate
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	prefs, err := h.svc.Announcements.UpdatePreferences(r.Context(), PrincipalFrom(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *HTTPHandler) MuteSeller(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req struct {
		Mute *bool `json:"mute"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Mute == nil {
		writeError(w, domain.NewValidationError("mute", "is required"))
		return
	}

	prefs, err := h.svc.Announcements.MuteSeller(r.Context(), PrincipalFrom(r.Context()), ps.ByName("sellerId"), *req.Mute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cart, err := h.svc.Carts.Get(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) AddToCart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req cartItemRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	cart, err := h.svc.Carts.AddItem(r.Context(), PrincipalFrom(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) SetCartQuantity(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req cartItemRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	cart, err := h.svc.Carts.SetQuantity(r.Context(), PrincipalFrom(r.Context()), ps.ByName("productId"), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) RemoveFromCart(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	cart, err := h.svc.Carts.RemoveItem(r.Context(), PrincipalFrom(r.Context()), ps.ByName("productId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cart, err := h.svc.Carts.Clear(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	orders, err := h.svc.Orders.ListOrders(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	result, err := h.svc.Orders.PlaceOrder(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	order, err := h.svc.Orders.GetOrder(r.Context(), ps.ByName("id"), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	order, err := h.svc.Orders.CancelOrder(r.Context(), ps.ByName("id"), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	order, err := h.svc.Orders.UpdateOrderStatus(r.Context(), ps.ByName("id"), req.Status, PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) Invoice(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	order, err := h.svc.Orders.GetOrder(r.Context(), ps.ByName("id"), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	pdf, err := invoice.Render(order)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename="+invoice.Filename(order))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

func (h *HTTPHandler) Search(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	result, err := h.svc.Search.Search(r.Context(), r.URL.Query().Get("q"), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) RecentSearches(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	recent, err := h.svc.Search.RecentSearches(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recentSearches": recent})
}

func (h *HTTPHandler) ClearRecentSearches(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := h.svc.Search.ClearRecentSearches(r.Context(), PrincipalFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) RecentlyViewed(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))

	products, err := h.svc.Catalog.RecentlyViewed(r.Context(), PrincipalFrom(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, productsResponse{Products: products, Count: len(products)})
}
