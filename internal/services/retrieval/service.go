// -----------------------------------------------------------------------
// Retrieval Service - RAG chat answers over the ingested filings corpus
// -----------------------------------------------------------------------

package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// systemPromptTemplate frames the model as a filings analyst. The retrieved
// context rides inside the system prompt so history turns stay clean
// user/assistant text. Placeholders: company list, context block.
const systemPromptTemplate = `You are an AI financial analyst assistant. You help users analyze annual reports and financial data from BSE India companies.

Currently analyzing: %s

Answer from the provided context only:
- Use only the data given in the context below. If the context does not contain enough information, acknowledge this limitation.
- Never guess or estimate numbers that are not present in the context.
- When several companies are selected, answer for each company separately.

Format your responses clearly:
- Use bullet points for lists
- Highlight key numbers and metrics
- Compare data across years when relevant
- Cite the fiscal year and document when referencing specific data

Context:
%s`

// emptyContextNotice stands in for the context block when the KNN search
// returns nothing, so the model declines rather than inventing figures.
const emptyContextNotice = "No relevant information found."

// Service implements RAG-style chat: embed the question, pull the nearest
// chunks from the selected projects, and stream a grounded completion. It
// runs on the caller's request goroutine and reports progress through the
// caller's event sink.
type Service struct {
	config   *common.Config
	store    interfaces.StorageManager
	embedder interfaces.Embedder
	llm      interfaces.LLMService
	logger   arbor.ILogger
}

var _ interfaces.RetrievalService = (*Service)(nil)

// NewService creates the retrieval service.
func NewService(
	config *common.Config,
	store interfaces.StorageManager,
	embedder interfaces.Embedder,
	llm interfaces.LLMService,
	logger arbor.ILogger,
) (*Service, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	service := &Service{
		config:   config,
		store:    store,
		embedder: embedder,
		llm:      llm,
		logger:   logger,
	}

	service.logger.Info().
		Int("knn_k", config.Pipeline.KNNLimit).
		Msg("Retrieval service initialized")

	return service, nil
}

// Answer runs the full retrieval flow for one question. Event order on the
// sink: status, status, context, start, chunk..., done. The user message is
// persisted before any retrieval work; the assistant message is persisted
// strictly before done. A cancelled ctx (client disconnect) aborts the
// upstream generation and skips assistant persistence.
func (s *Service) Answer(ctx context.Context, chatID, content string, projectIDs []string, emit interfaces.EventSink) error {
	chat, err := s.store.Chats().GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return common.E(common.KindValidation, "message content cannot be empty")
	}
	if len(projectIDs) == 0 {
		return common.E(common.KindValidation, "at least one project must be selected")
	}

	companies := make([]string, 0, len(projectIDs))
	for _, projectID := range projectIDs {
		project, err := s.store.Projects().GetProject(ctx, projectID)
		if err != nil {
			if common.IsKind(err, common.KindNotFound) {
				return common.E(common.KindNotFound, "one or more selected projects not found")
			}
			return err
		}
		companies = append(companies, project.CompanyName)
	}

	userMsg := &models.Message{
		ID:         common.NewID(),
		ChatID:     chat.ID,
		Role:       models.RoleUser,
		Content:    content,
		ProjectIDs: projectIDs,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.Chats().CreateMessage(ctx, userMsg); err != nil {
		return err
	}

	s.logger.Debug().
		Str("chat_id", chat.ID).
		Int("projects", len(projectIDs)).
		Msg("Answering chat question")

	if err := emit(models.ChatStatusEvent("Creating query embedding")); err != nil {
		return err
	}
	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}

	if err := emit(models.ChatStatusEvent("Searching relevant documents")); err != nil {
		return err
	}
	chunks, err := s.store.Documents().KNN(ctx, vector, projectIDs, s.config.Pipeline.KNNLimit)
	if err != nil {
		return err
	}
	if err := emit(models.ContextEvent(len(chunks))); err != nil {
		return err
	}

	s.logger.Debug().
		Str("chat_id", chat.ID).
		Int("chunks_found", len(chunks)).
		Msg("Retrieved context chunks")

	system := buildSystemPrompt(companies, chunks)
	turns, err := s.conversationTurns(ctx, chat.ID)
	if err != nil {
		return err
	}

	if err := emit(models.StartEvent()); err != nil {
		return err
	}
	answer, err := s.llm.CompleteStream(ctx, system, turns, func(token string) error {
		return emit(models.ChunkEvent(token))
	})
	if err != nil {
		return err
	}
	// A disconnect racing the final token still skips persistence; the
	// client will resend the question against the history it last saw.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	aiMsg := &models.Message{
		ID:         common.NewID(),
		ChatID:     chat.ID,
		Role:       models.RoleAssistant,
		Content:    answer,
		ProjectIDs: projectIDs,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.Chats().CreateMessage(ctx, aiMsg); err != nil {
		return err
	}

	s.logger.Info().
		Str("chat_id", chat.ID).
		Str("message_id", aiMsg.ID).
		Int("answer_chars", len(answer)).
		Msg("Chat answer persisted")

	return emit(models.DoneEvent(aiMsg.ID))
}

// conversationTurns loads the chat's messages in chronological order and maps
// them onto model turns. The just-persisted user message arrives as the final
// turn, so the turn list is always non-empty and ends with the question.
func (s *Service) conversationTurns(ctx context.Context, chatID string) ([]interfaces.ChatTurn, error) {
	messages, err := s.store.Chats().ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}

	turns := make([]interfaces.ChatTurn, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "assistant"
		}
		turns = append(turns, interfaces.ChatTurn{Role: role, Content: msg.Content})
	}
	return turns, nil
}

// buildSystemPrompt renders the analyst directive with the selected company
// names and the grouped context block.
func buildSystemPrompt(companies []string, chunks []*models.ScoredChunk) string {
	return fmt.Sprintf(systemPromptTemplate, strings.Join(companies, ", "), buildContext(chunks))
}

// buildContext renders retrieved chunks grouped by company in first-seen
// order. Each chunk carries a bracketed provenance header so the model can
// cite the filing it quotes.
func buildContext(chunks []*models.ScoredChunk) string {
	if len(chunks) == 0 {
		return emptyContextNotice
	}

	order := make([]string, 0, 4)
	grouped := make(map[string][]*models.ScoredChunk)
	for _, chunk := range chunks {
		if _, seen := grouped[chunk.CompanyName]; !seen {
			order = append(order, chunk.CompanyName)
		}
		grouped[chunk.CompanyName] = append(grouped[chunk.CompanyName], chunk)
	}

	var b strings.Builder
	for _, company := range order {
		fmt.Fprintf(&b, "\n## %s\n", company)
		for _, chunk := range grouped[company] {
			period := chunk.FiscalYear
			if period == "" {
				period = "N/A"
			}
			field := chunk.Field
			if field == "" {
				field = "general"
			}
			fmt.Fprintf(&b, "\n[Document: %s, Period: %s, Field: %s]\n%s\n", chunk.DocumentType, period, field, chunk.Content)
		}
	}
	return b.String()
}
