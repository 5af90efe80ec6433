package server

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matt-riley/orderz/internal/metadata"
	"github.com/matt-riley/orderz/internal/service"
)

const OrderServiceName = "orderz.v1.OrderService"

type GetOrderRequest struct {
	ID string `json:"id"`
}

type PlaceOrderResponse struct {
	Order  service.Order       `json:"order"`
	Priced service.PricedOrder `json:"priced"`
}

// OrderServiceServer is the server API of orderz.v1.OrderService.
type OrderServiceServer interface {
	GenerateMetadata(context.Context, *service.MetadataRequest) (*metadata.ProductMetadata, error)
	PriceOrder(context.Context, *service.OrderRequest) (*service.PricedOrder, error)
	PlaceOrder(context.Context, *service.OrderRequest) (*PlaceOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*service.Order, error)
}

// OrderServiceDesc describes orderz.v1.OrderService. Messages are encoded
// with [JSONCodec] only; there is no protobuf schema. Clients must send the
// "json" content subtype (grpc.CallContentSubtype(CodecName), as
// [OrderServiceClient] does), so default proto-codec clients and grpcurl
// cannot call it.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: OrderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GenerateMetadata",
			Handler: unaryHandler("GenerateMetadata", func(srv OrderServiceServer, ctx context.Context, req *service.MetadataRequest) (*metadata.ProductMetadata, error) {
				return srv.GenerateMetadata(ctx, req)
			}),
		},
		{
			MethodName: "PriceOrder",
			Handler: unaryHandler("PriceOrder", func(srv OrderServiceServer, ctx context.Context, req *service.OrderRequest) (*service.PricedOrder, error) {
				return srv.PriceOrder(ctx, req)
			}),
		},
		{
			MethodName: "PlaceOrder",
			Handler: unaryHandler("PlaceOrder", func(srv OrderServiceServer, ctx context.Context, req *service.OrderRequest) (*PlaceOrderResponse, error) {
				return srv.PlaceOrder(ctx, req)
			}),
		},
		{
			MethodName: "GetOrder",
			Handler: unaryHandler("GetOrder", func(srv OrderServiceServer, ctx context.Context, req *GetOrderRequest) (*service.Order, error) {
				return srv.GetOrder(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orderz/v1/order_service",
}

func unaryHandler[Req, Resp any](method string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + OrderServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// OrderServiceClient calls orderz.v1.OrderService with the JSON codec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) GenerateMetadata(ctx context.Context, in *service.MetadataRequest, opts ...grpc.CallOption) (*metadata.ProductMetadata, error) {
	out := new(metadata.ProductMetadata)
	if err := c.invoke(ctx, "GenerateMetadata", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) PriceOrder(ctx context.Context, in *service.OrderRequest, opts ...grpc.CallOption) (*service.PricedOrder, error) {
	out := new(service.PricedOrder)
	if err := c.invoke(ctx, "PriceOrder", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) PlaceOrder(ctx context.Context, in *service.OrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error) {
	out := new(PlaceOrderResponse)
	if err := c.invoke(ctx, "PlaceOrder", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*service.Order, error) {
	out := new(service.Order)
	if err := c.invoke(ctx, "GetOrder", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+OrderServiceName+"/"+method, in, out, opts...)
}

// GRPCServer implements OrderServiceServer over the order service.
type GRPCServer struct {
	service Service
}

func NewGRPCServer(svc Service) *GRPCServer {
	if svc == nil {
		panic("service is nil")
	}
	return &GRPCServer{service: svc}
}

var _ OrderServiceServer = (*GRPCServer)(nil)

func (s *GRPCServer) GenerateMetadata(ctx context.Context, req *service.MetadataRequest) (*metadata.ProductMetadata, error) {
	if req == nil || strings.TrimSpace(req.ProductID) == "" {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}

	md, err := s.service.GenerateMetadata(ctx, *req)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &md, nil
}

func (s *GRPCServer) PriceOrder(ctx context.Context, req *service.OrderRequest) (*service.PricedOrder, error) {
	if req == nil || len(req.Items) == 0 {
		return nil, status.Error(codes.InvalidArgument, "items are required")
	}

	priced, err := s.service.PriceOrder(ctx, *req)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &priced, nil
}

func (s *GRPCServer) PlaceOrder(ctx context.Context, req *service.OrderRequest) (*PlaceOrderResponse, error) {
	if req == nil || len(req.Items) == 0 {
		return nil, status.Error(codes.InvalidArgument, "items are required")
	}

	order, priced, err := s.service.PlaceOrder(ctx, *req)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &PlaceOrderResponse{Order: order, Priced: priced}, nil
}

func (s *GRPCServer) GetOrder(ctx context.Context, req *GetOrderRequest) (*service.Order, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	id, err := uuid.Parse(strings.TrimSpace(req.ID))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid order id")
	}

	order, err := s.service.GetOrder(ctx, id)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &order, nil
}
