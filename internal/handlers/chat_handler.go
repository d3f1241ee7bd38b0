// -----------------------------------------------------------------------
// Chat Handler - chat sessions, message history and the streaming answer
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ChatHandler handles chat API requests.
type ChatHandler struct {
	store     interfaces.StorageManager
	retrieval interfaces.RetrievalService
	logger    arbor.ILogger
}

func NewChatHandler(store interfaces.StorageManager, retrieval interfaces.RetrievalService, logger arbor.ILogger) *ChatHandler {
	return &ChatHandler{
		store:     store,
		retrieval: retrieval,
		logger:    logger,
	}
}

type createChatRequest struct {
	Title      string   `json:"title"`
	ProjectIDs []string `json:"project_ids" validate:"required,min=1"`
}

type sendMessageRequest struct {
	Content    string   `json:"content" validate:"required"`
	ProjectIDs []string `json:"project_ids" validate:"required,min=1"`
}

type chatResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

type chatListResponse struct {
	Chats []chatResponse `json:"chats"`
	Total int            `json:"total"`
}

type messageListResponse struct {
	ChatID   string            `json:"chat_id"`
	Messages []*models.Message `json:"messages"`
	Total    int               `json:"total"`
}

// CreateChatHandler creates a chat session scoped to the selected projects
// POST /api/chats
func (h *ChatHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req createChatRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	companies, ok := h.resolveCompanies(w, r, req.ProjectIDs)
	if !ok {
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = models.AutoChatTitle(companies)
	}

	chat := &models.Chat{
		ID:        common.NewID(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.Chats().CreateChat(r.Context(), chat); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create chat")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("chat_id", chat.ID).Str("title", title).Msg("Chat created")

	WriteJSON(w, http.StatusCreated, chatResponse{
		ID:        chat.ID,
		Title:     chat.Title,
		CreatedAt: chat.CreatedAt,
	})
}

// resolveCompanies checks every selected project exists and returns their
// company names in selection order.
func (h *ChatHandler) resolveCompanies(w http.ResponseWriter, r *http.Request, projectIDs []string) ([]string, bool) {
	companies := make([]string, 0, len(projectIDs))
	for _, projectID := range projectIDs {
		project, err := h.store.Projects().GetProject(r.Context(), projectID)
		if err != nil {
			if common.IsKind(err, common.KindNotFound) {
				WriteError(w, http.StatusNotFound, "one or more selected projects not found")
				return nil, false
			}
			h.logger.Error().Err(err).Str("project_id", projectID).Msg("Failed to load project")
			WriteServiceError(w, err)
			return nil, false
		}
		companies = append(companies, project.CompanyName)
	}
	return companies, true
}

// ListChatsHandler returns all chat sessions with message counts, newest first
// GET /api/chats
func (h *ChatHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	chats, err := h.store.Chats().ListChats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list chats")
		WriteServiceError(w, err)
		return
	}

	out := make([]chatResponse, 0, len(chats))
	for _, chat := range chats {
		messages, err := h.store.Chats().ListMessages(r.Context(), chat.ID)
		if err != nil {
			h.logger.Error().Err(err).Str("chat_id", chat.ID).Msg("Failed to count chat messages")
			WriteServiceError(w, err)
			return
		}
		out = append(out, chatResponse{
			ID:           chat.ID,
			Title:        chat.Title,
			CreatedAt:    chat.CreatedAt,
			MessageCount: len(messages),
		})
	}

	WriteJSON(w, http.StatusOK, chatListResponse{Chats: out, Total: len(out)})
}

// GetChatHandler returns a chat with its full message history
// GET /api/chats/{id}
func (h *ChatHandler) GetChatHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := ResourceID(r)
	chat, err := h.store.Chats().GetChat(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	messages, err := h.store.Chats().ListMessages(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("chat_id", id).Msg("Failed to list chat messages")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, models.ChatDetail{Chat: *chat, Messages: messages})
}

// DeleteChatHandler removes a chat and its messages
// DELETE /api/chats/{id}
func (h *ChatHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	id := ResourceID(r)
	if _, err := h.store.Chats().GetChat(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}

	if err := h.store.Chats().DeleteChat(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("chat_id", id).Msg("Failed to delete chat")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("chat_id", id).Msg("Chat deleted")
	w.WriteHeader(http.StatusNoContent)
}

// ListMessagesHandler returns the chat's messages in chronological order
// GET /api/chats/{id}/messages
func (h *ChatHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := ResourceID(r)
	if _, err := h.store.Chats().GetChat(r.Context(), id); err != nil {
		WriteServiceError(w, err)
		return
	}

	messages, err := h.store.Chats().ListMessages(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("chat_id", id).Msg("Failed to list chat messages")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, messageListResponse{ChatID: id, Messages: messages, Total: len(messages)})
}

// SendMessageHandler answers a question over SSE. Validation that can fail
// with a real HTTP status happens before the stream starts; once headers are
// out, failures arrive as error events inside the stream.
// POST /api/chats/{id}/messages
func (h *ChatHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	chatID := ResourceID(r)
	var req sendMessageRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if _, err := h.store.Chats().GetChat(r.Context(), chatID); err != nil {
		WriteServiceError(w, err)
		return
	}
	if _, ok := h.resolveCompanies(w, r, req.ProjectIDs); !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	setSSEHeaders(w)
	flusher.Flush()

	err := h.retrieval.Answer(r.Context(), chatID, req.Content, req.ProjectIDs, func(event models.ProgressEvent) error {
		return writeSSE(w, flusher, event)
	})
	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Debug().Str("chat_id", chatID).Msg("Chat stream client disconnected")
			return
		}
		h.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Chat answer failed")
		writeSSE(w, flusher, models.ErrorEvent("", common.ClientMessage(err)))
	}
}
