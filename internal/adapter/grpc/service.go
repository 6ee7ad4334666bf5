package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "financik.ledger.v1.LedgerService"

// Method names of the ledger service
const (
	MethodOpenAccount      = "OpenAccount"
	MethodApply            = "Apply"
	MethodRetract          = "Retract"
	MethodSetBalance       = "SetBalance"
	MethodGetBalance       = "GetBalance"
	MethodQueryByDateRange = "QueryByDateRange"
	MethodDailySummary     = "DailySummary"
	MethodMonthlyHistory   = "MonthlyHistory"
	MethodAddCategory      = "AddCategory"
	MethodListCategories   = "ListCategories"
)

// LedgerServiceServer is the server API of the ledger service
// Requests and responses are google.protobuf.Struct messages.
type LedgerServiceServer interface {
	OpenAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Apply(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Retract(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QueryByDateRange(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DailySummary(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MonthlyHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddCategory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCategories(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodDesc(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(LedgerServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the ledger service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc(MethodOpenAccount, LedgerServiceServer.OpenAccount),
		methodDesc(MethodApply, LedgerServiceServer.Apply),
		methodDesc(MethodRetract, LedgerServiceServer.Retract),
		methodDesc(MethodSetBalance, LedgerServiceServer.SetBalance),
		methodDesc(MethodGetBalance, LedgerServiceServer.GetBalance),
		methodDesc(MethodQueryByDateRange, LedgerServiceServer.QueryByDateRange),
		methodDesc(MethodDailySummary, LedgerServiceServer.DailySummary),
		methodDesc(MethodMonthlyHistory, LedgerServiceServer.MonthlyHistory),
		methodDesc(MethodAddCategory, LedgerServiceServer.AddCategory),
		methodDesc(MethodListCategories, LedgerServiceServer.ListCategories),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "financik/ledger/v1/ledger.proto",
}

// RegisterLedgerServiceServer registers srv on s
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the /service/method path of a ledger method
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Client calls the ledger service with plain maps as messages
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client over an established connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req and returns the decoded response
func (c *Client) Call(ctx context.Context, method string, req map[string]interface{}, opts ...grpc.CallOption) (map[string]interface{}, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
