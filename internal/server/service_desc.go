package server

import (
	"context"
	"time"

	"StableLedger/internal/errcode"
	"StableLedger/internal/observability"
	"StableLedger/internal/query"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const ServiceName = "stableledger.v1.Ledger"

// unary builds a MethodDesc for a handler taking *Req and returning *Resp.
func unary[Req, Resp any](name string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LedgerServiceDesc describes stableledger.v1.Ledger for grpc.Server.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", LedgerServer.Submit),
		unary("GetProtocol", LedgerServer.GetProtocol),
		unary("ListPools", LedgerServer.ListPools),
		unary("ListVaults", LedgerServer.ListVaults),
		unary("GetVault", LedgerServer.GetVault),
		unary("GetStableBalance", LedgerServer.GetStableBalance),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
		unary("GetProjectedBalances", LedgerServer.GetProjectedBalances),
		unary("ListLiquidations", LedgerServer.ListLiquidations),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stableledger/v1/ledger",
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// LedgerClient calls stableledger.v1.Ledger with the JSON codec.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *LedgerClient, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	return invoke[SubmitResponse](ctx, c, "Submit", in, opts)
}

func (c *LedgerClient) GetProtocol(ctx context.Context, opts ...grpc.CallOption) (*ProtocolView, error) {
	return invoke[ProtocolView](ctx, c, "GetProtocol", &Empty{}, opts)
}

func (c *LedgerClient) ListPools(ctx context.Context, opts ...grpc.CallOption) (*PoolsResponse, error) {
	return invoke[PoolsResponse](ctx, c, "ListPools", &Empty{}, opts)
}

func (c *LedgerClient) ListVaults(ctx context.Context, in *OwnerRequest, opts ...grpc.CallOption) (*VaultsResponse, error) {
	return invoke[VaultsResponse](ctx, c, "ListVaults", in, opts)
}

func (c *LedgerClient) GetVault(ctx context.Context, in *VaultRequest, opts ...grpc.CallOption) (*VaultResponse, error) {
	return invoke[VaultResponse](ctx, c, "GetVault", in, opts)
}

func (c *LedgerClient) GetStableBalance(ctx context.Context, in *OwnerRequest, opts ...grpc.CallOption) (*StableBalanceResponse, error) {
	return invoke[StableBalanceResponse](ctx, c, "GetStableBalance", in, opts)
}

func (c *LedgerClient) VerifyIntegrity(ctx context.Context, opts ...grpc.CallOption) (*IntegrityResponse, error) {
	return invoke[IntegrityResponse](ctx, c, "VerifyIntegrity", &Empty{}, opts)
}

func (c *LedgerClient) GetProjectedBalances(ctx context.Context, in *OwnerRequest, opts ...grpc.CallOption) (*query.BalancesResponse, error) {
	return invoke[query.BalancesResponse](ctx, c, "GetProjectedBalances", in, opts)
}

func (c *LedgerClient) ListLiquidations(ctx context.Context, in *LiquidationsRequest, opts ...grpc.CallOption) (*query.LiquidationsResponse, error) {
	return invoke[query.LiquidationsResponse](ctx, c, "ListLiquidations", in, opts)
}

// metricsInterceptor records per-method request counts, latency and errors,
// and turns engine errors into status errors.
func metricsInterceptor(metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := methodName(info.FullMethod)
		start := time.Now()
		resp, err := handler(ctx, req)
		err = toStatus(err)
		if metrics != nil {
			metrics.QueryRequests.WithLabelValues(method).Inc()
			metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.QueryErrors.WithLabelValues(method, status.Code(err).String()).Inc()
			}
		}
		return resp, err
	}
}

func methodName(fullMethod string) string {
	for i := len(fullMethod) - 1; i >= 0; i-- {
		if fullMethod[i] == '/' {
			return fullMethod[i+1:]
		}
	}
	return fullMethod
}

// errcodeName extracts the engine code carried in a status message, if any.
func errcodeName(err error) string {
	if code := errcode.CodeOf(err); code != errcode.CodeUnknown {
		return code.String()
	}
	return ""
}
