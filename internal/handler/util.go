package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/secondbrain/internal/auth"
	"github.com/jun/secondbrain/internal/model"
)

var errNoBearer = errors.New("no authorization token found")

// getHeader is a case-insensitive header lookup.
func getHeader(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, v := range req.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return strings.Join(v, "; ")
		}
	}
	return ""
}

// getCookie returns the value of the named cookie from the Cookie header.
func getCookie(req events.APIGatewayProxyRequest, name string) string {
	raw := getHeader(req, "Cookie")
	if raw == "" {
		return ""
	}
	cookies, err := http.ParseCookie(raw)
	if err != nil {
		// Tolerate one malformed pair by scanning manually.
		for _, part := range strings.Split(raw, ";") {
			part = strings.TrimSpace(part)
			if v, ok := strings.CutPrefix(part, name+"="); ok {
				return v
			}
		}
		return ""
	}
	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Authenticate verifies the bearer access token of req.
func Authenticate(req events.APIGatewayProxyRequest, issuer *auth.Issuer) (*auth.Claims, error) {
	authHeader := getHeader(req, "Authorization")
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenString == "" {
		return nil, errNoBearer
	}
	return issuer.Parse(tokenString, auth.TokenTypeAccess)
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// success wraps data in the BaseResponse envelope.
func success[T any](status int, data *T) events.APIGatewayProxyResponse {
	return jsonResponse(status, model.BaseResponse[T]{Success: true, Data: data})
}

func failure(status int, message string) events.APIGatewayProxyResponse {
	return jsonResponse(status, model.BaseResponse[struct{}]{Success: false, Message: message})
}

func unauthorized() events.APIGatewayProxyResponse {
	return failure(http.StatusUnauthorized, "Unauthorized")
}

func withCookies(resp events.APIGatewayProxyResponse, cookies ...*http.Cookie) events.APIGatewayProxyResponse {
	if resp.MultiValueHeaders == nil {
		resp.MultiValueHeaders = make(map[string][]string)
	}
	for _, c := range cookies {
		resp.MultiValueHeaders["Set-Cookie"] = append(resp.MultiValueHeaders["Set-Cookie"], c.String())
	}
	return resp
}

func redirect(location string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": location,
		},
	}
}
