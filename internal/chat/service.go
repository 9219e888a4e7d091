package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"github.com/sitesmith-dev/sitesmith/internal/config"
	"github.com/sitesmith-dev/sitesmith/internal/models"
	"github.com/sitesmith-dev/sitesmith/internal/tokens"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// systemPrompt steers the assistant toward website-building output.
const systemPrompt = "You are SiteSmith, a website-builder assistant. " +
	"Help the user design and build their website: produce clean HTML, CSS, " +
	"and copy, explain layout choices briefly, and ask at most one clarifying " +
	"question when requirements are ambiguous."

// historyLimit caps how many prior messages are replayed to the model.
const historyLimit = 20

// Errors returned by the chat service.
var (
	// ErrUnknownModel indicates the requested model is not in the catalog.
	ErrUnknownModel = errors.New("chat: unknown model")
	// ErrModelRestricted indicates the model needs a premium or paid tier.
	ErrModelRestricted = errors.New("chat: model restricted to premium tiers")
	// ErrConversationNotFound indicates the conversation does not exist or belongs to another user.
	ErrConversationNotFound = errors.New("chat: conversation not found")
)

// Service proxies chat requests to the language-model provider and charges
// the token engine for each exchange.
type Service struct {
	conn   *gorm.DB
	engine *tokens.Engine
	client *openai.Client
}

// NewService constructs a chat Service.
func NewService(conn *gorm.DB, engine *tokens.Engine, cfg config.OpenAIConfig) *Service {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Service{
		conn:   conn,
		engine: engine,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

// SendResult is the outcome of a successful exchange.
type SendResult struct {
	ConversationID uint64        `json:"conversation_id"`
	Reply          string        `json:"reply"`
	Model          string        `json:"model"`
	TokensCharged  int64         `json:"tokens_charged"`
	Deduction      tokens.Result `json:"deduction"`
}

// Send charges the user for the prompt and forwards it to the provider.
// A failed deduction is returned as a non-nil tokens.Result with a nil
// SendResult; the caller maps it to a payment-required response.
func (s *Service) Send(ctx context.Context, user *models.User, conversationID uint64, modelID, prompt string) (*SendResult, *tokens.Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, nil, fmt.Errorf("chat: empty prompt")
	}

	model, ok := ModelByID(modelID)
	if !ok {
		return nil, nil, ErrUnknownModel
	}
	if model.PremiumOnly && user.Tier == models.TierFree {
		return nil, nil, ErrModelRestricted
	}

	conversation, errConv := s.loadOrCreateConversation(ctx, user.ID, conversationID, model.ID, prompt)
	if errConv != nil {
		return nil, nil, errConv
	}

	history, errHistory := s.recentMessages(ctx, conversation.ID)
	if errHistory != nil {
		return nil, nil, errHistory
	}

	cost := tokens.RequestCost(model.BaseCost, len(prompt))
	deduction := s.engine.Deduct(ctx, user.ID, cost, model.ID, "chat: "+conversation.Title)
	if !deduction.Success {
		return nil, &deduction, nil
	}

	reply, meta, errCompletion := s.complete(ctx, model, history, prompt)
	if errCompletion != nil {
		// The charge stands; the caller retries the request.
		log.WithError(errCompletion).WithFields(log.Fields{
			"user_id": user.ID,
			"model":   model.ID,
		}).Warn("chat completion failed after deduction")
		return nil, nil, fmt.Errorf("chat: completion: %w", errCompletion)
	}

	if errPersist := s.persistExchange(ctx, conversation, prompt, reply, cost, meta); errPersist != nil {
		return nil, nil, errPersist
	}

	return &SendResult{
		ConversationID: conversation.ID,
		Reply:          reply,
		Model:          model.ID,
		TokensCharged:  cost,
		Deduction:      deduction,
	}, nil, nil
}

// loadOrCreateConversation fetches the user's conversation or starts one.
func (s *Service) loadOrCreateConversation(ctx context.Context, userID, conversationID uint64, modelID, prompt string) (*models.Conversation, error) {
	if conversationID != 0 {
		var conversation models.Conversation
		errFind := s.conn.WithContext(ctx).
			Where("id = ? AND user_id = ?", conversationID, userID).
			First(&conversation).Error
		if errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return nil, ErrConversationNotFound
			}
			return nil, errFind
		}
		return &conversation, nil
	}

	conversation := models.Conversation{
		UserID: userID,
		Title:  deriveTitle(prompt),
		Model:  modelID,
	}
	if errCreate := s.conn.WithContext(ctx).Create(&conversation).Error; errCreate != nil {
		return nil, errCreate
	}
	return &conversation, nil
}

// recentMessages returns the newest history in chronological order.
func (s *Service) recentMessages(ctx context.Context, conversationID uint64) ([]models.ChatMessage, error) {
	var rows []models.ChatMessage
	errFind := s.conn.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(historyLimit).
		Find(&rows).Error
	if errFind != nil {
		return nil, errFind
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// complete calls the provider and returns the reply with usage metadata.
func (s *Service) complete(ctx context.Context, model Model, history []models.ChatMessage, prompt string) (string, json.RawMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, row := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    row.Role,
			Content: row.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, errCreate := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model.Provider,
		Messages: messages,
	})
	if errCreate != nil {
		return "", nil, errCreate
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("provider returned no choices")
	}

	choice := resp.Choices[0]
	meta, _ := json.Marshal(map[string]any{
		"finish_reason":     choice.FinishReason,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	})
	return choice.Message.Content, meta, nil
}

// persistExchange stores the user prompt and assistant reply.
func (s *Service) persistExchange(ctx context.Context, conversation *models.Conversation, prompt, reply string, cost int64, meta json.RawMessage) error {
	return s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userMsg := models.ChatMessage{
			ConversationID: conversation.ID,
			Role:           openai.ChatMessageRoleUser,
			Content:        prompt,
			TokensCharged:  cost,
		}
		if errCreate := tx.Create(&userMsg).Error; errCreate != nil {
			return errCreate
		}
		assistantMsg := models.ChatMessage{
			ConversationID: conversation.ID,
			Role:           openai.ChatMessageRoleAssistant,
			Content:        reply,
			Meta:           datatypes.JSON(meta),
		}
		if errCreate := tx.Create(&assistantMsg).Error; errCreate != nil {
			return errCreate
		}
		return tx.Model(conversation).Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
	})
}

// deriveTitle trims the first prompt into a conversation title. The cut
// lands on a rune boundary so multi-byte prompts stay valid UTF-8.
func deriveTitle(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	const maxTitle = 60
	if len(title) > maxTitle {
		cut := maxTitle
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimSpace(title[:cut]) + "…"
	}
	if title == "" {
		title = "New site"
	}
	return title
}
