// Package channels connects chat platforms to the command service. The
// Discord channel speaks the gateway protocol over a websocket; Telegram
// arrives via webhook and lives in the handlers package.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"oneclaw/internal/domain"
	"oneclaw/internal/service"

	"github.com/gorilla/websocket"
)

const (
	gatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	apiBase    = "https://discord.com/api/v10"

	opDispatch  = 0
	opHeartbeat = 1
	opIdentify  = 2
	opHello     = 10

	// GUILDS + GUILD_MESSAGES + MESSAGE_CONTENT + DIRECT_MESSAGES
	gatewayIntents = 33281
)

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type messageCreate struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
}

// DiscordChannel maintains the gateway connection and routes bot commands.
type DiscordChannel struct {
	token  string
	cmd    *service.CommandService
	client *http.Client

	mu   sync.Mutex
	seq  int64
	done chan struct{}
}

func NewDiscordChannel(token string, cmd *service.CommandService) *DiscordChannel {
	return &DiscordChannel{
		token:  token,
		cmd:    cmd,
		client: &http.Client{Timeout: 15 * time.Second},
		done:   make(chan struct{}),
	}
}

// Start runs the gateway loop in the background, reconnecting with backoff
// until Stop is called.
func (d *DiscordChannel) Start(ctx context.Context) {
	go func() {
		backoff := time.Second
		for {
			select {
			case <-d.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			if err := d.runOnce(ctx); err != nil {
				log.Printf("[discord] gateway session ended: %v (reconnecting in %s)", err, backoff)
			}
			select {
			case <-time.After(backoff):
			case <-d.done:
				return
			case <-ctx.Done():
				return
			}
			if backoff < 60*time.Second {
				backoff *= 2
			}
		}
	}()
}

func (d *DiscordChannel) Stop() {
	close(d.done)
}

func (d *DiscordChannel) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	// first frame must be Hello with the heartbeat interval
	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var helloData struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil || helloData.HeartbeatInterval <= 0 {
		helloData.HeartbeatInterval = 45000
	}

	if err := d.sendIdentify(conn); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go d.heartbeatLoop(conn, time.Duration(helloData.HeartbeatInterval)*time.Millisecond, stopHeartbeat)

	log.Printf("[discord] gateway connected")
	for {
		var payload gatewayPayload
		if err := conn.ReadJSON(&payload); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if payload.S != nil {
			d.mu.Lock()
			d.seq = *payload.S
			d.mu.Unlock()
		}
		if payload.Op == opDispatch && payload.T == "MESSAGE_CREATE" {
			var msg messageCreate
			if err := json.Unmarshal(payload.D, &msg); err != nil {
				continue
			}
			d.handleMessage(ctx, msg)
		}
	}
}

type identifyData struct {
	Token      string         `json:"token"`
	Intents    int            `json:"intents"`
	Properties map[string]any `json:"properties"`
}

func (d *DiscordChannel) sendIdentify(conn *websocket.Conn) error {
	data, err := json.Marshal(identifyData{
		Token:   d.token,
		Intents: gatewayIntents,
		Properties: map[string]any{
			"os":      "linux",
			"browser": "oneclaw",
			"device":  "oneclaw",
		},
	})
	if err != nil {
		return err
	}
	return conn.WriteJSON(gatewayPayload{Op: opIdentify, D: data})
}

func (d *DiscordChannel) heartbeatLoop(conn *websocket.Conn, interval time.Duration, stop <-chan struct{}) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			d.mu.Lock()
			seq := d.seq
			d.mu.Unlock()
			data, _ := json.Marshal(seq)
			if err := conn.WriteJSON(gatewayPayload{Op: opHeartbeat, D: data}); err != nil {
				return
			}
		}
	}
}

func (d *DiscordChannel) handleMessage(ctx context.Context, msg messageCreate) {
	if msg.Author.Bot || !d.cmd.IsCommand(msg.Content) {
		return
	}
	reply := d.cmd.Handle(ctx, domain.ProviderDiscord, msg.Author.ID, msg.Author.Username, msg.ID, msg.Content)
	if reply == "" {
		return
	}
	if err := d.sendMessage(ctx, msg.ChannelID, reply); err != nil {
		log.Printf("[discord] send reply: %v", err)
	}
}

func (d *DiscordChannel) sendMessage(ctx context.Context, channelID, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/channels/%s/messages", apiBase, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+d.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord api returned %d", resp.StatusCode)
	}
	return nil
}
