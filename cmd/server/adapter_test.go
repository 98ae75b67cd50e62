package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	got  events.APIGatewayProxyRequest
	resp events.APIGatewayProxyResponse
}

func (h *recordingHandler) HandleRequest(_ context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	h.got = req
	return h.resp, nil
}

func TestLambdaAdapter(t *testing.T) {
	h := &recordingHandler{resp: events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {"refreshToken=abc; Path=/; HttpOnly", "oauth_state=; Max-Age=0"},
		},
		Body: `{"success":true}`,
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/token?code=xyz", strings.NewReader(`{}`))
	req.Header.Add("Cookie", "a=1")
	req.Header.Add("Cookie", "refreshToken=old")
	rec := httptest.NewRecorder()

	lambdaAdapter(h).ServeHTTP(rec, req)

	assert.Equal(t, "/api/auth/token", h.got.Path)
	assert.Equal(t, http.MethodPost, h.got.HTTPMethod)
	assert.Equal(t, "xyz", h.got.QueryStringParameters["code"])
	assert.Equal(t, "a=1; refreshToken=old", h.got.Headers["Cookie"])
	assert.Equal(t, `{}`, h.got.Body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"success":true}`, rec.Body.String())
	assert.Len(t, rec.Result().Cookies(), 2)
}
