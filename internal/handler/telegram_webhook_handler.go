package handler

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"oneclaw/config"
	"oneclaw/internal/domain"
	"oneclaw/internal/service"

	"github.com/gin-gonic/gin"
)

// TelegramWebhookHandler routes bot commands arriving as Telegram updates.
// Replies use the webhook-response shortcut (method=sendMessage), so no
// outbound call is needed. The update's message id doubles as the charge
// request id: Telegram redelivers updates until acknowledged, and the id keeps
// those redeliveries idempotent end to end.
type TelegramWebhookHandler struct {
	cmd *service.CommandService
	cfg *config.TelegramConfig
}

func NewTelegramWebhookHandler(cmd *service.CommandService, cfg *config.TelegramConfig) *TelegramWebhookHandler {
	return &TelegramWebhookHandler{cmd: cmd, cfg: cfg}
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      *struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
			IsBot    bool   `json:"is_bot"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

func (h *TelegramWebhookHandler) Handle(c *gin.Context) {
	if h.cfg.WebhookSecret != "" {
		got := c.GetHeader("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.WebhookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad secret"})
			return
		}
	}
	var upd telegramUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update"})
		return
	}
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.From.IsBot || !h.cmd.IsCommand(msg.Text) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	reply := h.cmd.Handle(
		c.Request.Context(),
		domain.ProviderTelegram,
		strconv.FormatInt(msg.From.ID, 10),
		msg.From.Username,
		strconv.FormatInt(msg.Chat.ID, 10)+"_"+strconv.FormatInt(msg.MessageID, 10),
		msg.Text,
	)
	if reply == "" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"method":  "sendMessage",
		"chat_id": msg.Chat.ID,
		"text":    reply,
	})
}
