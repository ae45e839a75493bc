// Package middleware contains HTTP middleware for the metering API.
//
// Middleware follows the standard pattern of wrapping http.Handler and is
// composed with Stack.
package middleware

import "net/http"

// Stack composes middleware into a single wrapper. The first middleware is
// the outermost: it runs first on the request and last on the response.
//
//	api := Stack(logging.Handler, limiter.Limit)
//	mux.Handle("POST /v1/subscribers/{id}/usage", api(usageHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
