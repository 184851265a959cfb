package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"StableLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxRequestBody = 1 << 20

// errorBody is the JSON shape of every gateway error.
type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

// NewGatewayMux serves the Ledger methods as HTTP/JSON. Handlers call the
// service in process, so the gateway shares its error mapping with gRPC.
func NewGatewayMux(svc LedgerServer, metrics *observability.Metrics) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux(
		runtime.WithMarshalerOption(runtime.MIMEWildcard, &runtime.JSONBuiltin{}),
		runtime.WithErrorHandler(writeError),
	)
	g := &gateway{svc: svc, mux: mux, metrics: metrics}

	routes := []struct {
		method, path string
		h            runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/requests/{kind}", g.submit},
		{http.MethodGet, "/v1/protocol", g.protocol},
		{http.MethodGet, "/v1/pools", g.pools},
		{http.MethodGet, "/v1/vaults/{owner}", g.vaults},
		{http.MethodGet, "/v1/vaults/{owner}/{asset}", g.vault},
		{http.MethodGet, "/v1/balances/{owner}", g.stableBalance},
		{http.MethodGet, "/v1/integrity", g.integrity},
		{http.MethodGet, "/v1/projections/balances/{owner}", g.projectedBalances},
		{http.MethodGet, "/v1/liquidations", g.liquidations},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

type gateway struct {
	svc     LedgerServer
	mux     *runtime.ServeMux
	metrics *observability.Metrics
}

// writeError renders err with the HTTP status of its gRPC code. The
// engine's own code name travels in "error" when there is one.
func writeError(ctx context.Context, mux *runtime.ServeMux, m runtime.Marshaler, w http.ResponseWriter, r *http.Request, err error) {
	name := errcodeName(err)
	st := status.Convert(toStatus(err))
	body := errorBody{Code: st.Code().String(), Error: name, Message: st.Message()}

	buf, merr := m.Marshal(body)
	if merr != nil {
		http.Error(w, st.Message(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", m.ContentType(body))
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	_, _ = w.Write(buf)
}

func (g *gateway) respond(w http.ResponseWriter, r *http.Request, method string, call func(context.Context) (any, error)) {
	start := time.Now()
	resp, err := call(r.Context())
	if g.metrics != nil {
		g.metrics.QueryRequests.WithLabelValues(method).Inc()
		g.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			g.metrics.QueryErrors.WithLabelValues(method, status.Code(toStatus(err)).String()).Inc()
		}
	}

	_, out := runtime.MarshalerForRequest(g.mux, r)
	if err != nil {
		runtime.HTTPError(r.Context(), g.mux, out, w, r, err)
		return
	}
	buf, err := out.Marshal(resp)
	if err != nil {
		runtime.HTTPError(r.Context(), g.mux, out, w, r, status.Errorf(codes.Internal, "marshal response: %v", err))
		return
	}
	w.Header().Set("Content-Type", out.ContentType(resp))
	_, _ = w.Write(buf)
}

func (g *gateway) submit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	g.respond(w, r, "Submit", func(ctx context.Context) (any, error) {
		if err != nil {
			return nil, invalidArgument("read body: %v", err)
		}
		return g.svc.Submit(ctx, &SubmitRequest{Kind: params["kind"], Request: body})
	})
}

func (g *gateway) protocol(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.respond(w, r, "GetProtocol", func(ctx context.Context) (any, error) {
		return g.svc.GetProtocol(ctx, &Empty{})
	})
}

func (g *gateway) pools(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.respond(w, r, "ListPools", func(ctx context.Context) (any, error) {
		return g.svc.ListPools(ctx, &Empty{})
	})
}

func (g *gateway) vaults(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.respond(w, r, "ListVaults", func(ctx context.Context) (any, error) {
		return g.svc.ListVaults(ctx, &OwnerRequest{Owner: params["owner"]})
	})
}

func (g *gateway) vault(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.respond(w, r, "GetVault", func(ctx context.Context) (any, error) {
		return g.svc.GetVault(ctx, &VaultRequest{Owner: params["owner"], AssetID: params["asset"]})
	})
}

func (g *gateway) stableBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.respond(w, r, "GetStableBalance", func(ctx context.Context) (any, error) {
		return g.svc.GetStableBalance(ctx, &OwnerRequest{Owner: params["owner"]})
	})
}

func (g *gateway) integrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.respond(w, r, "VerifyIntegrity", func(ctx context.Context) (any, error) {
		return g.svc.VerifyIntegrity(ctx, &Empty{})
	})
}

func (g *gateway) projectedBalances(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.respond(w, r, "GetProjectedBalances", func(ctx context.Context) (any, error) {
		return g.svc.GetProjectedBalances(ctx, &OwnerRequest{Owner: params["owner"]})
	})
}

func (g *gateway) liquidations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	g.respond(w, r, "ListLiquidations", func(ctx context.Context) (any, error) {
		req := &LiquidationsRequest{Owner: q.Get("owner"), AssetID: q.Get("asset")}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, invalidArgument("invalid limit %q", v)
			}
			req.Limit = n
		}
		if v := q.Get("before"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, invalidArgument("invalid before %q", v)
			}
			req.Before = n
		}
		return g.svc.ListLiquidations(ctx, req)
	})
}
