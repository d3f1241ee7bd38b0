package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Projects
	mux.HandleFunc("/api/projects", s.handleProjectsRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/projects/", s.handleProjectRoutes) // /{id} and subpaths

	// API routes - Chats
	mux.HandleFunc("/api/chats", s.handleChatsRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/chats/", s.handleChatRoutes) // /{id} and subpaths

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleProjectsRoute routes /api/projects requests (list and create)
func (s *Server) handleProjectsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r,
		s.app.ProjectHandler.ListProjectsHandler,
		s.app.ProjectHandler.CreateProjectHandler)
}

// handleProjectRoutes routes /api/projects/{id} requests and subpaths:
//
//	GET    /api/projects/{id}
//	DELETE /api/projects/{id}
//	GET    /api/projects/{id}/status
//	GET    /api/projects/{id}/snapshot
//	GET    /api/projects/{id}/snapshot/export
//	GET    /api/projects/{id}/job
//	GET    /api/projects/{id}/job/logs
//	POST   /api/projects/{id}/cancel
//	POST   /api/projects/{id}/resume
//	GET    /api/projects/{id}/progress-stream
func (s *Server) handleProjectRoutes(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/api/projects/")
	if id == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	switch action {
	case "":
		RouteResourceItem(w, r,
			s.app.ProjectHandler.GetProjectHandler,
			s.app.ProjectHandler.DeleteProjectHandler)
	case "status":
		s.app.ProjectHandler.GetProjectStatusHandler(w, r)
	case "snapshot":
		s.app.ProjectHandler.GetSnapshotHandler(w, r)
	case "snapshot/export":
		s.app.ProjectHandler.ExportSnapshotHandler(w, r)
	case "job":
		s.app.ProjectHandler.GetJobHandler(w, r)
	case "job/logs":
		s.app.ProjectHandler.GetJobLogsHandler(w, r)
	case "cancel":
		s.app.ProjectHandler.CancelProjectHandler(w, r)
	case "resume":
		s.app.ProjectHandler.ResumeProjectHandler(w, r)
	case "progress-stream":
		s.app.EventsHandler.ProgressStreamHandler(w, r)
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}

// handleChatsRoute routes /api/chats requests (list and create)
func (s *Server) handleChatsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r,
		s.app.ChatHandler.ListChatsHandler,
		s.app.ChatHandler.CreateChatHandler)
}

// handleChatRoutes routes /api/chats/{id} requests and subpaths:
//
//	GET    /api/chats/{id}
//	DELETE /api/chats/{id}
//	GET    /api/chats/{id}/messages
//	POST   /api/chats/{id}/messages
func (s *Server) handleChatRoutes(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/api/chats/")
	if id == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	switch action {
	case "":
		RouteResourceItem(w, r,
			s.app.ChatHandler.GetChatHandler,
			s.app.ChatHandler.DeleteChatHandler)
	case "messages":
		RouteByMethod(w, r, MethodRouter{
			http.MethodGet:  s.app.ChatHandler.ListMessagesHandler,
			http.MethodPost: s.app.ChatHandler.SendMessageHandler,
		})
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}

// splitResourcePath splits "/api/projects/{id}/job/logs" into the id and the
// action remainder ("job/logs"). A bare collection path yields an empty id.
func splitResourcePath(path, prefix string) (id, action string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}
