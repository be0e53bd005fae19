package lambdaproxy

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func functionURLRequest(method, path, body string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		Version:  "2.0",
		RawPath:  path,
		Headers:  map[string]string{"content-type": "application/json", "stripe-signature": "t=1,v1=abc"},
		Body:     body,
		RouteKey: "$default",
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			RequestID:  "lambda-req-1",
			DomainName: "abc123.lambda-url.us-east-1.on.aws",
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method:   method,
				Path:     path,
				SourceIP: "203.0.113.9",
			},
		},
	}
}

func TestProxy_ForwardsRequest(t *testing.T) {
	var (
		gotBody   string
		gotSig    string
		gotMethod string
		gotPath   string
		gotReqID  string
		gotQuery  string
		gotRemote string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotSig = r.Header.Get("Stripe-Signature")
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("debug")
		gotReqID = r.Header.Get("X-Request-Id")
		gotRemote = r.RemoteAddr
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})

	req := functionURLRequest(http.MethodPost, "/webhook", `{"id":"evt_1"}`)
	req.RawQueryString = "debug=1"

	resp, err := New(handler).Handle(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, `{"message":"ok"}`, resp.Body)
	assert.False(t, resp.IsBase64Encoded)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])

	assert.Equal(t, `{"id":"evt_1"}`, gotBody)
	assert.Equal(t, "t=1,v1=abc", gotSig)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/webhook", gotPath)
	assert.Equal(t, "1", gotQuery)
	assert.Equal(t, "lambda-req-1", gotReqID)
	assert.Equal(t, "203.0.113.9", gotRemote)
}

func TestProxy_InboundRequestIDWins(t *testing.T) {
	var gotReqID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReqID = r.Header.Get("X-Request-Id")
	})

	req := functionURLRequest(http.MethodPost, "/webhook", "{}")
	req.Headers["x-request-id"] = "provider-trace-7"

	_, err := New(handler).Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "provider-trace-7", gotReqID)
}

func TestProxy_DecodesBase64Body(t *testing.T) {
	var gotBody []byte
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
	})

	req := functionURLRequest(http.MethodPost, "/webhook", base64.StdEncoding.EncodeToString([]byte("raw-bytes")))
	req.IsBase64Encoded = true

	resp, err := New(handler).Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("raw-bytes"), gotBody)
}

func TestProxy_MalformedBase64NeverReachesHandler(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := functionURLRequest(http.MethodPost, "/webhook", "%%%not-base64")
	req.IsBase64Encoded = true

	_, err := New(handler).Handle(context.Background(), req)
	assert.Error(t, err)
	assert.False(t, called)
}
