package app

import (
	"net/http"
)

// An Adapter wraps an http.Handler with additional behavior
type Adapter func(http.Handler) http.Handler

// Adapt wraps the handler in each of the given adapters.
// Adapters run in the reverse of the order given.
func Adapt(h http.Handler, adapters ...Adapter) http.Handler {
	for _, adapter := range adapters {
		h = adapter(h)
	}
	return h
}
