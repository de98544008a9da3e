package handler

import (
	"context"
	"errors"
	"log"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

type GRPCHandler struct {
	orderService *service.OrderService
	identity     port.IdentityProvider
}

func NewGRPCHandler(orderService *service.OrderService, identity port.IdentityProvider) *GRPCHandler {
	return &GRPCHandler{orderService: orderService, identity: identity}
}

func (h *GRPCHandler) principal(ctx context.Context) (domain.Principal, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return domain.Principal{}, status.Error(codes.Unauthenticated, "missing token")
	}

	token := values[0]
	if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
		token = token[7:]
	}
	p, err := h.identity.ResolvePrincipal(ctx, strings.TrimSpace(token))
	if err != nil {
		return domain.Principal{}, status.Error(codes.Unauthenticated, "invalid token")
	}
	return p, nil
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, _ *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	p, err := h.principal(ctx)
	if err != nil {
		return nil, err
	}

	result, err := h.orderService.PlaceOrder(ctx, p)
	if err != nil {
		return nil, grpcError(err)
	}
	return &PlaceOrderResponse{Order: result.Order, Warnings: result.Warnings}, nil
}

func (h *GRPCHandler) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderResponse, error) {
	p, err := h.principal(ctx)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "orderId is required")
	}

	order, err := h.orderService.CancelOrder(ctx, req.OrderID, p)
	if err != nil {
		return nil, grpcError(err)
	}
	return &OrderResponse{Order: order}, nil
}

func (h *GRPCHandler) UpdateOrderStatus(ctx context.Context, req *UpdateOrderStatusRequest) (*OrderResponse, error) {
	p, err := h.principal(ctx)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "orderId is required")
	}

	order, err := h.orderService.UpdateOrderStatus(ctx, req.OrderID, req.Status, p)
	if err != nil {
		return nil, grpcError(err)
	}
	return &OrderResponse{Order: order}, nil
}

func (h *GRPCHandler) ListOrders(ctx context.Context, _ *ListOrdersRequest) (*ListOrdersResponse, error) {
	p, err := h.principal(ctx)
	if err != nil {
		return nil, err
	}

	orders, err := h.orderService.ListOrders(ctx, p)
	if err != nil {
		return nil, grpcError(err)
	}
	return &ListOrdersResponse{Orders: orders}, nil
}

func grpcError(err error) error {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrEmptyCart):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrAccountNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrCheckoutInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrDependency):
		log.Printf("grpc: dependency failure: %v", err)
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	default:
		log.Printf("grpc: internal error: %v", err)
		return status.Error(codes.Internal, "internal error")
	}
}
