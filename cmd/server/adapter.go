package main

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

type lambdaHandler interface {
	HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)
}

// lambdaAdapter serves an API Gateway handler over plain HTTP.
func lambdaAdapter(h lambdaHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		headers := make(map[string]string, len(r.Header))
		for k, v := range r.Header {
			sep := ", "
			if k == "Cookie" {
				sep = "; "
			}
			headers[k] = strings.Join(v, sep)
		}

		queryParams := make(map[string]string)
		for k, v := range r.URL.Query() {
			queryParams[k] = v[0]
		}

		req := events.APIGatewayProxyRequest{
			Path:                  r.URL.Path,
			HTTPMethod:            r.Method,
			Headers:               headers,
			QueryStringParameters: queryParams,
			Body:                  string(body),
		}

		resp, err := h.HandleRequest(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		for k, values := range resp.MultiValueHeaders {
			for _, v := range values {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.Body))
	}
}
