package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dukkani/dukkani/internal/adapter/handler/rpc"
	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/core/service"
)

type GRPCHandler struct {
	orderService *service.OrderService
	log          zerolog.Logger
}

var _ rpc.OrderServiceServer = (*GRPCHandler)(nil)

func NewGRPCHandler(orderService *service.OrderService, log zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{orderService: orderService, log: log}
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *rpc.CreateOrderRequest) (*rpc.OrderResponse, error) {
	in, err := toCreateOrderInput(req)
	if err != nil {
		return nil, h.status(err)
	}
	order, err := h.orderService.CreateOrder(ctx, in, userFromMetadata(ctx))
	if err != nil {
		return nil, h.status(err)
	}
	return &rpc.OrderResponse{Order: toOrderMessage(*order)}, nil
}

func (h *GRPCHandler) DeleteOrder(ctx context.Context, req *rpc.DeleteOrderRequest) (*rpc.DeleteOrderResponse, error) {
	if err := h.orderService.DeleteOrder(ctx, req.OrderID, userFromMetadata(ctx)); err != nil {
		return nil, h.status(err)
	}
	return &rpc.DeleteOrderResponse{Deleted: true}, nil
}

func (h *GRPCHandler) UpdateOrderStatus(ctx context.Context, req *rpc.UpdateOrderStatusRequest) (*rpc.OrderResponse, error) {
	order, err := h.orderService.UpdateOrderStatus(ctx, req.OrderID, domain.OrderStatus(req.Status), userFromMetadata(ctx))
	if err != nil {
		return nil, h.status(err)
	}
	return &rpc.OrderResponse{Order: toOrderMessage(*order)}, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *rpc.GetOrderRequest) (*rpc.OrderResponse, error) {
	order, err := h.orderService.GetOrder(ctx, req.OrderID, userFromMetadata(ctx))
	if err != nil {
		return nil, h.status(err)
	}
	return &rpc.OrderResponse{Order: toOrderMessage(*order)}, nil
}

// status converts a service error into a gRPC status with the same client
// message the HTTP API would send.
func (h *GRPCHandler) status(err error) error {
	code, body := httpError(err)
	var c codes.Code
	switch {
	case errors.Is(err, domain.ErrDuplicateRequest):
		c = codes.AlreadyExists
	case domain.IsInsufficientStock(err):
		c = codes.FailedPrecondition
	default:
		c = grpcCode(code)
	}
	if c == codes.Internal {
		h.log.Error().Err(err).Msg("rpc failed")
	}
	return status.Error(c, body.Message)
}

func grpcCode(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.Aborted
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

func userFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(rpc.UserIDMetadataKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

// UnaryLogger logs each call with its outcome code.
func UnaryLogger(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		log.Info().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}
