package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/core/service"
)

const (
	grpcServiceName = "pharmacy.v1.OrderService"
	jsonCodecName   = "json"
	actorMetadata   = "x-actor"
)

// jsonCodec lets the service run over gRPC without generated protobuf types.
// Clients select it with grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type PlaceOrderRPCRequest struct {
	RequestID  string  `json:"request_id"`
	CustomerID int64   `json:"customer_id"`
	Items      []int64 `json:"items"`
	Quantities []int64 `json:"quantities"`
}

type OrderLineRPC struct {
	MedicineID int64  `json:"medicine_id"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	LineTotal  string `json:"line_total"`
}

type PlaceOrderRPCResponse struct {
	OrderID     int64          `json:"order_id"`
	TotalAmount string         `json:"total_amount"`
	Lines       []OrderLineRPC `json:"lines"`
}

type AdjustStockRPCRequest struct {
	MedicineID int64 `json:"medicine_id"`
	Delta      int64 `json:"delta"`
}

type AdjustStockRPCResponse struct {
	MedicineID int64 `json:"medicine_id"`
	Quantity   int64 `json:"quantity"`
}

type MedicineRPCRequest struct {
	MedicineID int64 `json:"medicine_id"`
}

type MedicineRPCResponse struct {
	MedicineID int64 `json:"medicine_id"`
	Active     bool  `json:"active"`
}

type OrderServiceServer interface {
	PlaceOrder(context.Context, *PlaceOrderRPCRequest) (*PlaceOrderRPCResponse, error)
	AdjustStock(context.Context, *AdjustStockRPCRequest) (*AdjustStockRPCResponse, error)
	RetireMedicine(context.Context, *MedicineRPCRequest) (*MedicineRPCResponse, error)
	RestoreMedicine(context.Context, *MedicineRPCRequest) (*MedicineRPCResponse, error)
}

type GRPCHandler struct {
	orders    *service.OrderService
	inventory *service.InventoryService
}

func NewGRPCHandler(orders *service.OrderService, inventory *service.InventoryService) *GRPCHandler {
	return &GRPCHandler{orders: orders, inventory: inventory}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&orderServiceDesc, h)
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *PlaceOrderRPCRequest) (*PlaceOrderRPCResponse, error) {
	lines, err := domain.LinesFromParallel(req.Items, req.Quantities)
	if err != nil {
		return nil, grpcError(err)
	}
	order, err := h.orders.PlaceOrder(actorContext(ctx), service.PlaceOrderRequest{
		RequestID:  req.RequestID,
		CustomerID: req.CustomerID,
		Lines:      lines,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	resp := &PlaceOrderRPCResponse{
		OrderID:     order.ID,
		TotalAmount: order.TotalAmount.StringFixed(2),
		Lines:       make([]OrderLineRPC, 0, len(order.Lines)),
	}
	for _, l := range order.Lines {
		resp.Lines = append(resp.Lines, OrderLineRPC{
			MedicineID: l.MedicineID,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice.StringFixed(2),
			LineTotal:  l.LineTotal.StringFixed(2),
		})
	}
	return resp, nil
}

func (h *GRPCHandler) AdjustStock(ctx context.Context, req *AdjustStockRPCRequest) (*AdjustStockRPCResponse, error) {
	rec, err := h.inventory.AdjustStock(actorContext(ctx), req.MedicineID, req.Delta)
	if err != nil {
		return nil, grpcError(err)
	}
	return &AdjustStockRPCResponse{MedicineID: rec.MedicineID, Quantity: rec.Quantity}, nil
}

func (h *GRPCHandler) RetireMedicine(ctx context.Context, req *MedicineRPCRequest) (*MedicineRPCResponse, error) {
	if err := h.inventory.Retire(actorContext(ctx), req.MedicineID); err != nil {
		return nil, grpcError(err)
	}
	return &MedicineRPCResponse{MedicineID: req.MedicineID, Active: false}, nil
}

func (h *GRPCHandler) RestoreMedicine(ctx context.Context, req *MedicineRPCRequest) (*MedicineRPCResponse, error) {
	if err := h.inventory.Restore(actorContext(ctx), req.MedicineID); err != nil {
		return nil, grpcError(err)
	}
	return &MedicineRPCResponse{MedicineID: req.MedicineID, Active: true}, nil
}

func actorContext(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	if v := md.Get(actorMetadata); len(v) > 0 {
		return domain.WithActor(ctx, v[0])
	}
	return ctx
}

// grpcError maps the stable error codes onto gRPC codes. Aborted is the only retryable one.
func grpcError(err error) error {
	code := domain.ErrorCode(err)
	var c codes.Code
	switch code {
	case "line_count_mismatch", "invalid_request":
		c = codes.InvalidArgument
	case "medicine_not_found", "customer_not_found", "not_found":
		c = codes.NotFound
	case "expired_medicine", "medicine_retired", "inventory_record_missing", "invalid_state":
		c = codes.FailedPrecondition
	case "insufficient_stock":
		c = codes.ResourceExhausted
	case "duplicate_request", "already_exists":
		c = codes.AlreadyExists
	case "contention":
		c = codes.Aborted
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Errorf(c, "%s: %v", code, err)
}

func unaryHandler[Req any, Resp any](method string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + grpcServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		})
	}
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: unaryHandler("PlaceOrder", OrderServiceServer.PlaceOrder)},
		{MethodName: "AdjustStock", Handler: unaryHandler("AdjustStock", OrderServiceServer.AdjustStock)},
		{MethodName: "RetireMedicine", Handler: unaryHandler("RetireMedicine", OrderServiceServer.RetireMedicine)},
		{MethodName: "RestoreMedicine", Handler: unaryHandler("RestoreMedicine", OrderServiceServer.RestoreMedicine)},
	},
	Streams: []grpc.StreamDesc{},
}

// OrderClient calls OrderService over a connection using the JSON codec.
type OrderClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderClient(cc grpc.ClientConnInterface) *OrderClient {
	return &OrderClient{cc: cc}
}

func (c *OrderClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+grpcServiceName+"/"+method, in, out, opts...)
}

func (c *OrderClient) PlaceOrder(ctx context.Context, in *PlaceOrderRPCRequest, opts ...grpc.CallOption) (*PlaceOrderRPCResponse, error) {
	out := new(PlaceOrderRPCResponse)
	if err := c.invoke(ctx, "PlaceOrder", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) AdjustStock(ctx context.Context, in *AdjustStockRPCRequest, opts ...grpc.CallOption) (*AdjustStockRPCResponse, error) {
	out := new(AdjustStockRPCResponse)
	if err := c.invoke(ctx, "AdjustStock", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) RetireMedicine(ctx context.Context, in *MedicineRPCRequest, opts ...grpc.CallOption) (*MedicineRPCResponse, error) {
	out := new(MedicineRPCResponse)
	if err := c.invoke(ctx, "RetireMedicine", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) RestoreMedicine(ctx context.Context, in *MedicineRPCRequest, opts ...grpc.CallOption) (*MedicineRPCResponse, error) {
	out := new(MedicineRPCResponse)
	if err := c.invoke(ctx, "RestoreMedicine", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// IsRetryableRPC reports whether err is a gRPC status a client may retry.
func IsRetryableRPC(err error) bool {
	return status.Code(err) == codes.Aborted
}
