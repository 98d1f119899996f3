package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Chzzk Open API chat-session endpoints.
const (
	chatSubscribeURL   = "https://openapi.chzzk.naver.com/open/v1/sessions/events/subscribe/chat"
	chatUnsubscribeURL = "https://openapi.chzzk.naver.com/open/v1/sessions/events/unsubscribe/chat"

	chatRedialDelay = 1 * time.Second
)

// ChatEvent is the one well-typed shape the engine consumes. All of
// the platform's payload looseness is resolved in this file; nothing
// dynamic crosses into the game.
type ChatEvent struct {
	Username string
	Text     string
}

// gatewayFrame is the outer envelope of every socket message. The
// payload may itself be a JSON object or a JSON-encoded string
// containing one, depending on the platform's mood.
type gatewayFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// decodeLoose unwraps a payload that arrives either as an object or as
// a string-wrapped object.
func decodeLoose(raw []byte) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}

// parseSessionKey extracts the session key from a SYSTEM event. The
// key has been observed both at the top level and nested under "data".
func parseSessionKey(raw []byte) (string, bool) {
	m, ok := decodeLoose(raw)
	if !ok {
		return "", false
	}

	if key, ok := m["sessionKey"].(string); ok && key != "" {
		return key, true
	}
	if inner, ok := m["data"].(map[string]any); ok {
		if key, ok := inner["sessionKey"].(string); ok && key != "" {
			return key, true
		}
	}
	return "", false
}

// parseChatEvent extracts the speaker and message from a CHAT event.
// Events missing either field are dropped as noise.
func parseChatEvent(raw []byte) (ChatEvent, bool) {
	m, ok := decodeLoose(raw)
	if !ok {
		return ChatEvent{}, false
	}

	content, _ := m["content"].(string)

	var nickname string
	if profile, ok := m["profile"].(map[string]any); ok {
		nickname, _ = profile["nickname"].(string)
	}

	if content == "" || nickname == "" {
		return ChatEvent{}, false
	}
	return ChatEvent{Username: nickname, Text: content}, true
}

// chatGateway maintains the outbound websocket connection to the chat
// platform and feeds normalized events into the game. Transport
// failures stay in here: a disconnect triggers a redial and never
// touches session state.
type chatGateway struct {
	cfg    *Config
	game   *Game
	client *http.Client

	subscribeURL   string
	unsubscribeURL string
	sessionKey     string
}

func newChatGateway(cfg *Config, game *Game) *chatGateway {
	return &chatGateway{
		cfg:  cfg,
		game: game,
		client: &http.Client{
			Timeout: timeout,
		},
		subscribeURL:   chatSubscribeURL,
		unsubscribeURL: chatUnsubscribeURL,
	}
}

// run dials, reads until the connection drops, then redials until the
// context is canceled.
func (cg *chatGateway) run(ctx context.Context) {
	for {
		if err := cg.connect(ctx); err != nil {
			logf(cg.cfg, "CHAT: Connection failed: %v", err)
		}

		select {
		case <-ctx.Done():
			cg.unsubscribe()
			return
		case <-time.After(chatRedialDelay):
		}
	}
}

func (cg *chatGateway) connect(ctx context.Context) error {
	header := http.Header{}
	if cg.cfg.chatToken != "" {
		header.Set("Authorization", "Bearer "+cg.cfg.chatToken)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cg.cfg.chatURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	logf(cg.cfg, "CHAT: Connected to %s", cg.cfg.chatURL)

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		cg.handleFrame(data)
	}
}

func (cg *chatGateway) handleFrame(data []byte) {
	var frame gatewayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}

	switch strings.ToUpper(frame.Type) {
	case "SYSTEM":
		key, ok := parseSessionKey(frame.Data)
		if !ok {
			return
		}
		cg.sessionKey = key
		logf(cg.cfg, "CHAT: Session key obtained")
		if err := cg.subscribe(key); err != nil {
			logf(cg.cfg, "CHAT: Subscribe failed: %v", err)
		}
	case "CHAT":
		event, ok := parseChatEvent(frame.Data)
		if !ok {
			return
		}
		cg.game.SubmitGuess(cg.cfg, event.Username, event.Text)
	}
}

func (cg *chatGateway) subscribe(sessionKey string) error {
	return cg.sessionCall(cg.subscribeURL, sessionKey)
}

func (cg *chatGateway) unsubscribe() {
	if cg.sessionKey == "" {
		return
	}
	if err := cg.sessionCall(cg.unsubscribeURL, cg.sessionKey); err != nil {
		logf(cg.cfg, "CHAT: Unsubscribe failed: %v", err)
	}
}

func (cg *chatGateway) sessionCall(endpoint, sessionKey string) error {
	req, err := http.NewRequest(http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = url.Values{"sessionKey": {sessionKey}}.Encode()
	req.Header.Set("Content-Type", "application/json")
	if cg.cfg.chatToken != "" {
		req.Header.Set("Authorization", "Bearer "+cg.cfg.chatToken)
	}

	resp, err := cg.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errChatSubscribe
	}
	return nil
}
