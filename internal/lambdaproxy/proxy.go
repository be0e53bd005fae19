// Package lambdaproxy serves the relay's http.Handler behind an AWS Lambda
// function URL. Function URLs deliver the API Gateway HTTP API 2.0 payload,
// so the aws-lambda-go-api-proxy v2 adapter does the event translation.
package lambdaproxy

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/awslabs/aws-lambda-go-api-proxy/core"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
)

// Proxy adapts an http.Handler to the Lambda invocation signature.
type Proxy struct {
	adapter *httpadapter.HandlerAdapterV2
}

// New wraps handler.
func New(handler http.Handler) *Proxy {
	return &Proxy{adapter: httpadapter.NewV2(withInvocationContext(handler))}
}

// Handle is registered with lambda.Start.
func (p *Proxy) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return p.adapter.ProxyWithContext(ctx, req)
}

// withInvocationContext carries the invocation's request id and caller IP
// onto the request, so logs and outbound correlation headers line up with
// the Lambda request id.
func withInvocationContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rc, ok := core.GetAPIGatewayV2ContextFromContext(r.Context()); ok {
			if r.Header.Get("X-Request-Id") == "" && rc.RequestID != "" {
				r.Header.Set("X-Request-Id", rc.RequestID)
			}
			if rc.HTTP.SourceIP != "" {
				r.RemoteAddr = rc.HTTP.SourceIP
			}
		}
		next.ServeHTTP(w, r)
	})
}
