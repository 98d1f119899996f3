package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseSessionKey(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{
			name:   "top-level key",
			raw:    `{"sessionKey":"abc123"}`,
			want:   "abc123",
			wantOK: true,
		},
		{
			name:   "nested under data",
			raw:    `{"type":"connected","data":{"sessionKey":"abc123"}}`,
			want:   "abc123",
			wantOK: true,
		},
		{
			name:   "string-wrapped object",
			raw:    `"{\"sessionKey\":\"abc123\"}"`,
			want:   "abc123",
			wantOK: true,
		},
		{
			name:   "missing key",
			raw:    `{"type":"connected"}`,
			wantOK: false,
		},
		{
			name:   "empty key",
			raw:    `{"sessionKey":""}`,
			wantOK: false,
		},
		{
			name:   "not json",
			raw:    `garbage`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseSessionKey([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("parseSessionKey ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("parseSessionKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseChatEvent(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   ChatEvent
		wantOK bool
	}{
		{
			name:   "object payload",
			raw:    `{"content":"Dynamite","profile":{"nickname":"alice"}}`,
			want:   ChatEvent{Username: "alice", Text: "Dynamite"},
			wantOK: true,
		},
		{
			name:   "string-wrapped payload",
			raw:    `"{\"content\":\"Dynamite\",\"profile\":{\"nickname\":\"alice\"}}"`,
			want:   ChatEvent{Username: "alice", Text: "Dynamite"},
			wantOK: true,
		},
		{
			name:   "null profile",
			raw:    `{"content":"Dynamite","profile":null}`,
			wantOK: false,
		},
		{
			name:   "missing profile",
			raw:    `{"content":"Dynamite"}`,
			wantOK: false,
		},
		{
			name:   "missing content",
			raw:    `{"profile":{"nickname":"alice"}}`,
			wantOK: false,
		},
		{
			name:   "non-string content",
			raw:    `{"content":42,"profile":{"nickname":"alice"}}`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseChatEvent([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("parseChatEvent ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("parseChatEvent = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// A CHAT frame routed through the gateway lands in the guess pipeline.
func TestHandleFrameScoresGuess(t *testing.T) {
	cfg := testConfig()
	game := newGame([]Song{{ID: 0, Answers: []string{"Dynamite"}}}, false)
	game.Start(cfg)

	gateway := newChatGateway(cfg, game)
	gateway.handleFrame([]byte(`{"type":"CHAT","data":{"content":"dyna mite","profile":{"nickname":"alice"}}}`))

	winners := game.Winners()
	if len(winners) != 1 || winners[0] != "alice" {
		t.Fatalf("Expected alice to win via chat, got %v", winners)
	}
}

func TestHandleFrameIgnoresNoise(t *testing.T) {
	cfg := testConfig()
	game := newGame([]Song{{ID: 0, Answers: []string{"Dynamite"}}}, false)
	game.Start(cfg)

	gateway := newChatGateway(cfg, game)
	gateway.handleFrame([]byte(`not json at all`))
	gateway.handleFrame([]byte(`{"type":"DONATION","data":{}}`))
	gateway.handleFrame([]byte(`{"type":"CHAT","data":{"content":"","profile":{"nickname":"alice"}}}`))

	if len(game.Winners()) != 0 {
		t.Error("Noise frames must not reach the guess pipeline")
	}
}

func TestHandleFrameSessionKey(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("sessionKey")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig()
	gateway := newChatGateway(cfg, newGame(nil, false))
	gateway.subscribeURL = server.URL

	gateway.handleFrame([]byte(`{"type":"SYSTEM","data":{"sessionKey":"abc123"}}`))

	if gateway.sessionKey != "abc123" {
		t.Errorf("Expected session key abc123, got %q", gateway.sessionKey)
	}
	if gotKey != "abc123" {
		t.Errorf("Expected subscribe call with sessionKey abc123, got %q", gotKey)
	}
}
