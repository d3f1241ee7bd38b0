package server

import (
	"net/http"
	"strings"
)

// RouteHandler is the handler signature the routing helpers accept.
type RouteHandler func(http.ResponseWriter, *http.Request)

// MethodRouter maps an HTTP method to its handler. A request whose method has
// no entry gets 405 with an Allow header listing what the path supports.
type MethodRouter map[string]RouteHandler

// RouteByMethod dispatches on r.Method, answering 405 for anything the map
// does not cover.
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	handler, ok := routes[r.Method]
	if !ok {
		allowed := make([]string, 0, len(routes))
		for method := range routes {
			allowed = append(allowed, method)
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler(w, r)
}

// RouteResourceCollection covers the collection endpoints: GET lists,
// POST creates. Pass nil to leave a method unsupported.
func RouteResourceCollection(w http.ResponseWriter, r *http.Request, list, create RouteHandler) {
	routes := make(MethodRouter, 2)
	if list != nil {
		routes[http.MethodGet] = list
	}
	if create != nil {
		routes[http.MethodPost] = create
	}
	RouteByMethod(w, r, routes)
}

// RouteResourceItem covers a single resource: GET fetches, DELETE removes.
// Neither projects nor chats support in-place updates, so there is no PUT.
func RouteResourceItem(w http.ResponseWriter, r *http.Request, get, delete RouteHandler) {
	routes := make(MethodRouter, 2)
	if get != nil {
		routes[http.MethodGet] = get
	}
	if delete != nil {
		routes[http.MethodDelete] = delete
	}
	RouteByMethod(w, r, routes)
}
