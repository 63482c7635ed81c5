package telegram

import (
	"context"
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatkeeper/internal/auth"
	"chatkeeper/internal/history"
	"chatkeeper/internal/llm"
	"chatkeeper/internal/storage"
	"chatkeeper/internal/tenant"
)

const (
	continueCmd = "continue_ctx"
	forgetCmd   = "forget_ctx"

	// fallbackTenantID scopes events that carry neither a group nor a user.
	fallbackTenantID = "anonymous"

	sourceFieldKey = "source"
)

// Source is the per-tenant activation state: in group chats the bot only
// answers when activated or addressed by name.
type Source struct {
	Activated bool `json:"activated"`
}

type Bot struct {
	api            *tgbotapi.BotAPI
	authSvc        *auth.Service
	llmClient      llm.Client
	registry       *tenant.Registry
	prompts        *history.Cache
	recorder       storage.Recorder
	parseMode      string
	botName        string
	botTone        string
	forgetShortcut bool
	debug          bool
}

func New(
	botToken string,
	authSvc *auth.Service,
	llmClient llm.Client,
	registry *tenant.Registry,
	prompts *history.Cache,
	recorder storage.Recorder,
	parseMode string,
	botName string,
	botTone string,
	forgetShortcut bool,
	debug bool,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &Bot{
		api:            api,
		authSvc:        authSvc,
		llmClient:      llmClient,
		registry:       registry,
		prompts:        prompts,
		recorder:       recorder,
		parseMode:      parseMode,
		botName:        botName,
		botTone:        botTone,
		forgetShortcut: forgetShortcut,
		debug:          debug,
	}, nil
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				b.handleIncomingMessage(ctx, update.Message)
				continue
			}
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			}
		}
	}
}

// resolveTenantID maps an inbound message to its conversation scope: the
// group id, else the sender id, else the fallback sentinel.
func resolveTenantID(msg *tgbotapi.Message) string {
	switch {
	case msg.Chat != nil && (msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()):
		return fmt.Sprintf("group-%d", msg.Chat.ID)
	case msg.From != nil:
		return fmt.Sprintf("user-%d", msg.From.ID)
	default:
		return fallbackTenantID
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From != nil && !b.authSvc.IsAllowed(msg.From.ID) {
		log.Printf("unauthorized access attempt by user %d (@%s)", msg.From.ID, msg.From.UserName)
		return
	}

	tenantID := resolveTenantID(msg)
	if b.debug {
		log.Printf("incoming message in %q: %q", tenantID, msg.Text)
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, tenantID)
		return
	}
	if !b.shouldAnswer(ctx, msg, tenantID) {
		return
	}
	b.handleTalk(ctx, msg, tenantID)
}

// shouldAnswer implements group etiquette: private chats always get a reply,
// group chats only when the tenant is activated or the bot is addressed.
func (b *Bot) shouldAnswer(ctx context.Context, msg *tgbotapi.Message, tenantID string) bool {
	if msg.Chat == nil || (!msg.Chat.IsGroup() && !msg.Chat.IsSuperGroup()) {
		return true
	}
	if b.botName != "" && containsName(msg.Text, b.botName) {
		return true
	}
	source, err := b.loadSource(ctx, tenantID)
	if err != nil {
		log.Printf("load source for %q: %v", tenantID, err)
		return false
	}
	return source.Activated
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, tenantID string) {
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Hello! I am %s. Just write me something.", b.botName), nil)
	case "forget":
		b.forget(ctx, msg.Chat.ID, tenantID)
	case "continue":
		b.continueCompletion(ctx, msg.Chat.ID, tenantID)
	case "activate":
		b.setActivated(ctx, msg.Chat.ID, tenantID, true)
	case "deactivate":
		b.setActivated(ctx, msg.Chat.ID, tenantID, false)
	default:
		if b.debug {
			log.Printf("ignoring unknown command %q in %q", msg.Command(), tenantID)
		}
	}
}

func (b *Bot) handleTalk(ctx context.Context, msg *tgbotapi.Message, tenantID string) {
	prompt, err := b.prompts.Get(ctx, tenantID)
	if err != nil {
		// Degraded store: conversation continues on a fresh buffer.
		log.Printf("prompt load for %q degraded: %v", tenantID, err)
	}

	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		url, err := b.api.GetFileDirectURL(photo.FileID)
		if err != nil {
			log.Printf("resolve photo url for %q: %v", tenantID, err)
			b.sendMessage(msg.Chat.ID, "Sorry, I could not read that image.", nil)
			return
		}
		prompt.WriteImage(history.RoleHuman, msg.Caption, url)
	case msg.Text != "":
		prompt.Write(history.RoleHuman, b.applyTone(msg.Text))
	default:
		return
	}

	resp, err := b.llmClient.Generate(ctx, toLLMMessages(prompt.Messages()))
	if err != nil {
		log.Printf("completion for %q failed: %v", tenantID, err)
		prompt.Erase() // drop the unanswered turn
		b.sendMessage(msg.Chat.ID, "Sorry, something went wrong.", nil)
		return
	}

	prompt.Write(history.RoleAI, "")
	if err := prompt.Patch(resp.Content); err != nil {
		log.Printf("patch completion for %q: %v", tenantID, err)
		return
	}
	if err := b.prompts.Save(ctx, tenantID, prompt); err != nil {
		log.Printf("persist prompt for %q: %v", tenantID, err)
	}

	if b.debug {
		log.Printf("completion for %q [model=%s, tokens: prompt=%d, completion=%d, total=%d]",
			tenantID, resp.Model, resp.PromptTokens, resp.CompletionTokens, resp.TotalTokens)
	}
	b.recordInteraction(tenantID, msg.Text, resp)
	b.sendMessage(msg.Chat.ID, resp.Content, b.replyKeyboard(resp))
}

// continueCompletion extends the last assistant turn with another completion
// round instead of opening a new turn.
func (b *Bot) continueCompletion(ctx context.Context, chatID int64, tenantID string) {
	prompt, err := b.prompts.Get(ctx, tenantID)
	if err != nil {
		log.Printf("prompt load for %q degraded: %v", tenantID, err)
	}
	if _, ok := prompt.LastMessage(); !ok {
		return
	}

	resp, err := b.llmClient.Generate(ctx, toLLMMessages(prompt.Messages()))
	if err != nil {
		log.Printf("continue completion for %q failed: %v", tenantID, err)
		b.sendMessage(chatID, "Sorry, something went wrong.", nil)
		return
	}
	if err := prompt.Patch(resp.Content); err != nil {
		log.Printf("patch continuation for %q: %v", tenantID, err)
		return
	}
	if err := b.prompts.Save(ctx, tenantID, prompt); err != nil {
		log.Printf("persist prompt for %q: %v", tenantID, err)
	}
	b.sendMessage(chatID, resp.Content, b.replyKeyboard(resp))
}

func (b *Bot) forget(ctx context.Context, chatID int64, tenantID string) {
	if err := b.prompts.Forget(ctx, tenantID); err != nil {
		log.Printf("forget for %q failed: %v", tenantID, err)
		b.sendMessage(chatID, "Sorry, something went wrong.", nil)
		return
	}
	b.sendMessage(chatID, "Conversation forgotten. Let's start over!", nil)
}

func (b *Bot) setActivated(ctx context.Context, chatID int64, tenantID string, activated bool) {
	store := b.registry.GetStore(tenantID)
	if err := store.Initialize(ctx); err != nil {
		log.Printf("initialize tenant %q: %v", tenantID, err)
		return
	}
	if err := store.SetItem(ctx, sourceFieldKey, Source{Activated: activated}); err != nil {
		log.Printf("persist source for %q: %v", tenantID, err)
	}
	if activated {
		b.sendMessage(chatID, "I'm listening to this chat now.", nil)
	} else {
		b.sendMessage(chatID, "Going quiet. Mention me or /activate to bring me back.", nil)
	}
}

func (b *Bot) loadSource(ctx context.Context, tenantID string) (Source, error) {
	store := b.registry.GetStore(tenantID)
	if err := store.Initialize(ctx); err != nil {
		return Source{}, err
	}
	var source Source
	if _, err := store.GetItem(sourceFieldKey, &source); err != nil {
		return Source{}, err
	}
	return source, nil
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	tenantID := resolveTenantID(cb.Message)
	// Callbacks from private chats carry the bot as Message.From; scope by
	// the pressing user instead.
	if cb.Message.Chat != nil && !cb.Message.Chat.IsGroup() && !cb.Message.Chat.IsSuperGroup() && cb.From != nil {
		tenantID = fmt.Sprintf("user-%d", cb.From.ID)
	}

	switch cb.Data {
	case continueCmd:
		b.continueCompletion(ctx, cb.Message.Chat.ID, tenantID)
	case forgetCmd:
		b.forget(ctx, cb.Message.Chat.ID, tenantID)
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("ack callback: %v", err)
	}
}

func (b *Bot) replyKeyboard(resp llm.Response) *tgbotapi.InlineKeyboardMarkup {
	if !resp.IsFinishReasonStop() {
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Continue", continueCmd),
			),
		)
		return &kb
	}
	if b.forgetShortcut {
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Forget", forgetCmd),
			),
		)
		return &kb
	}
	return nil
}

func (b *Bot) recordInteraction(tenantID, userMessage string, resp llm.Response) {
	if b.recorder == nil {
		return
	}
	err := b.recorder.AppendInteraction(storage.Event{
		Timestamp:         time.Now().UTC(),
		TenantID:          tenantID,
		UserMessage:       userMessage,
		AssistantResponse: resp.Content,
		Model:             resp.Model,
	})
	if err != nil {
		log.Printf("record interaction for %q: %v", tenantID, err)
	}
}

func (b *Bot) applyTone(text string) string {
	if b.botTone == "" {
		return text
	}
	return fmt.Sprintf("Please answer in a %s tone. %s", b.botTone, text)
}

func (b *Bot) sendMessage(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	if b.parseMode != "" {
		msg.ParseMode = b.parseMode
	}
	if keyboard != nil {
		msg.ReplyMarkup = keyboard
	}
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("failed to send message: %v", err)
	}
}
