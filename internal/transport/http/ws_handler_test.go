package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatgate/internal/auth"
	"github.com/vovakirdan/chatgate/internal/config"
	"github.com/vovakirdan/chatgate/internal/core"
	"github.com/vovakirdan/chatgate/internal/proto"
	"github.com/vovakirdan/chatgate/internal/service/chats"
	"github.com/vovakirdan/chatgate/internal/store"
	"github.com/vovakirdan/chatgate/internal/store/sqlite"
)

type testEnv struct {
	ts       *httptest.Server
	hub      *core.Hub
	ws       *WSHandler
	store    *sqlite.SQLiteStore
	chats    *chats.Service
	accounts *auth.Service
	jwt      *auth.JWTConfig
}

func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.RateLimitPerSecond = 0
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}

	disabledLogger := zerolog.Nop()
	hub := core.NewHub(&disabledLogger)
	chatService := chats.New(st)
	router := core.NewRouter(hub, chatService, &disabledLogger, core.RouterOptions{
		StoreTimeout:          cfg.StoreTimeout,
		RequireChatMembership: cfg.RequireChatMembership,
	})
	accounts := auth.NewService(st, jwtConfig)
	ws := NewWSHandler(hub, router, &disabledLogger, WSOptionsFromConfig(&cfg))

	server := NewServer(&cfg, Deps{
		Hub:      hub,
		Router:   router,
		Verifier: auth.NewVerifier(st, jwtConfig),
		Accounts: accounts,
		WS:       ws,
	}, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, ws: ws, store: st, chats: chatService, accounts: accounts, jwt: jwtConfig}
}

func (e *testEnv) createUser(t *testing.T, name string) (*store.User, string) {
	t.Helper()

	user, token, err := e.accounts.Register(context.Background(), name, name+"@example.com", "password123", "")
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return user, token
}

func (e *testEnv) dial(ctx context.Context, t *testing.T, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: stdhttp.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type testOutbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	inbound := proto.Inbound{Event: event}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		inbound.Data = payload
	}
	if err := wsjson.Write(ctx, conn, inbound); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

func expect(ctx context.Context, t *testing.T, conn *websocket.Conn, event string) testOutbound {
	t.Helper()

	var out testOutbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read waiting for %q: %v", event, err)
	}
	if out.Event != event {
		t.Fatalf("expected %q, got %q (%s)", event, out.Event, out.Data)
	}
	return out
}

func expectChatError(ctx context.Context, t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()

	out := expect(ctx, t, conn, proto.EventChatError)
	var msg string
	if err := json.Unmarshal(out.Data, &msg); err != nil {
		t.Fatalf("decode chat error: %v", err)
	}
	if msg != want {
		t.Fatalf("expected chat error %q, got %q", want, msg)
	}
}

// setup runs the setup event and waits for the acknowledgement.
func setup(ctx context.Context, t *testing.T, conn *websocket.Conn) {
	t.Helper()

	send(ctx, t, conn, proto.EventSetup, map[string]string{"_id": "ignored"})
	expect(ctx, t, conn, proto.EventConnected)
}

// expectQuiet proves nothing was queued for conn: the reply to a fresh
// fetch chats request must be the next frame.
func expectQuiet(ctx context.Context, t *testing.T, conn *websocket.Conn) {
	t.Helper()

	send(ctx, t, conn, proto.EventFetchChats, nil)
	expect(ctx, t, conn, proto.EventFetchChats)
}

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestHandshakeRefusesBadCredentials(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ghostToken, err := auth.GenerateToken(env.jwt, "ghost")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	otherSecret := *env.jwt
	otherSecret.Secret = []byte("other-secret")
	forged, err := auth.GenerateToken(&otherSecret, "ghost")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	tests := []struct {
		name   string
		header stdhttp.Header
	}{
		{"missing", nil},
		{"empty bearer", stdhttp.Header{"Authorization": []string{"Bearer "}}},
		{"garbage", stdhttp.Header{"Authorization": []string{"Bearer not-a-token"}}},
		{"wrong secret", stdhttp.Header{"Authorization": []string{"Bearer " + forged}}},
		{"deleted user", stdhttp.Header{"Authorization": []string{"Bearer " + ghostToken}}},
	}

	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: tt.header})
			if err == nil {
				conn.Close(websocket.StatusNormalClosure, "done")
				t.Fatalf("expected handshake to be refused")
			}
			if resp == nil || resp.StatusCode != stdhttp.StatusUnauthorized {
				t.Fatalf("expected 401, got %+v", resp)
			}
		})
	}
}

func TestHandshakeAcceptsRawTokenInConfiguredHeader(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) { cfg.TokenHeader = "token" })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, token := env.createUser(t, "alice")
	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws"

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: stdhttp.Header{"Token": []string{token}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	setup(ctx, t, conn)
}

func TestNewMessageReachesOtherMember(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, aliceToken := env.createUser(t, "alice")
	bob, bobToken := env.createUser(t, "bob")
	chat, err := env.chats.AccessChat(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("access chat: %v", err)
	}

	connA := env.dial(ctx, t, aliceToken)
	connB := env.dial(ctx, t, bobToken)
	setup(ctx, t, connA)
	setup(ctx, t, connB)

	send(ctx, t, connA, proto.EventNewMessage, map[string]any{
		"sender":  map[string]string{"_id": alice.ID},
		"content": "hi",
		"chat": map[string]any{
			"_id":   chat.ID,
			"users": []map[string]string{{"_id": alice.ID}, {"_id": bob.ID}},
		},
	})

	out := expect(ctx, t, connB, proto.EventMessageReceived)
	var msg proto.Message
	if err := json.Unmarshal(out.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Sender == nil || msg.Sender.ID != alice.ID || msg.Content != "hi" {
		t.Fatalf("unexpected message: %s", out.Data)
	}
	if !bytes.Contains(out.Data, []byte(`"users"`)) || !bytes.Contains(out.Data, []byte(bob.Email)) {
		t.Fatalf("expected chat members populated, got %s", out.Data)
	}

	expectQuiet(ctx, t, connA)
}

func TestNewMessageFansOutToEveryOtherMember(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, aliceToken := env.createUser(t, "alice")
	bob, bobToken := env.createUser(t, "bob")
	carol, carolToken := env.createUser(t, "carol")
	_, daveToken := env.createUser(t, "dave")

	group, err := env.chats.CreateGroup(ctx, alice.ID, "team", []string{bob.ID, carol.ID})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	connA := env.dial(ctx, t, aliceToken)
	connB := env.dial(ctx, t, bobToken)
	connBPhone := env.dial(ctx, t, bobToken)
	connC := env.dial(ctx, t, carolToken)
	connD := env.dial(ctx, t, daveToken)
	for _, conn := range []*websocket.Conn{connA, connB, connBPhone, connC, connD} {
		setup(ctx, t, conn)
	}

	send(ctx, t, connA, proto.EventNewMessage, map[string]any{
		"sender":  alice.ID,
		"content": "standup",
		"chat":    map[string]any{"_id": group.ID, "users": []string{alice.ID, bob.ID, carol.ID}},
	})

	for _, conn := range []*websocket.Conn{connB, connBPhone, connC} {
		expect(ctx, t, conn, proto.EventMessageReceived)
	}
	expectQuiet(ctx, t, connA)
	expectQuiet(ctx, t, connD)
}

func TestNewMessageWithoutUsersIsDropped(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, aliceToken := env.createUser(t, "alice")
	bob, bobToken := env.createUser(t, "bob")
	chat, err := env.chats.AccessChat(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("access chat: %v", err)
	}

	connA := env.dial(ctx, t, aliceToken)
	connB := env.dial(ctx, t, bobToken)
	setup(ctx, t, connA)
	setup(ctx, t, connB)

	send(ctx, t, connA, proto.EventNewMessage, map[string]any{
		"sender":  alice.ID,
		"content": "hi",
		"chat":    map[string]any{"_id": chat.ID},
	})

	expectQuiet(ctx, t, connA)
	expectQuiet(ctx, t, connB)

	messages, err := env.store.FindMessagesByChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("find messages: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected nothing persisted, got %d messages", len(messages))
	}
}

func TestTypingReachesJoinedPeers(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, aliceToken := env.createUser(t, "alice")
	_, bobToken := env.createUser(t, "bob")
	connA := env.dial(ctx, t, aliceToken)
	connB := env.dial(ctx, t, bobToken)
	setup(ctx, t, connA)
	setup(ctx, t, connB)

	send(ctx, t, connA, proto.EventJoinChat, "room-1")
	send(ctx, t, connB, proto.EventJoinChat, "room-1")
	// Round trips guarantee both joins were processed.
	expectQuiet(ctx, t, connA)
	expectQuiet(ctx, t, connB)

	send(ctx, t, connA, proto.EventTyping, "room-1")
	out := expect(ctx, t, connB, proto.EventTyping)
	if string(out.Data) != `"room-1"` {
		t.Fatalf("expected room id payload, got %s", out.Data)
	}
	send(ctx, t, connA, proto.EventStopTyping, "room-1")
	expect(ctx, t, connB, proto.EventStopTyping)

	expectQuiet(ctx, t, connA)
}

func TestAccessChatIsIdempotent(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, aliceToken := env.createUser(t, "alice")
	bob, bobToken := env.createUser(t, "bob")
	connA := env.dial(ctx, t, aliceToken)
	connB := env.dial(ctx, t, bobToken)

	accessChat := func(conn *websocket.Conn, userID, currentUserID string) string {
		send(ctx, t, conn, proto.EventAccessChat, map[string]string{"userId": userID, "currentUserId": currentUserID})
		out := expect(ctx, t, conn, proto.EventAccessChat)
		var chat proto.Chat
		if err := json.Unmarshal(out.Data, &chat); err != nil {
			t.Fatalf("decode chat: %v", err)
		}
		if chat.IsGroupChat || len(chat.Users) != 2 {
			t.Fatalf("unexpected chat: %s", out.Data)
		}
		return chat.ID
	}

	first := accessChat(connA, bob.ID, alice.ID)
	second := accessChat(connA, bob.ID, alice.ID)
	fromBob := accessChat(connB, alice.ID, bob.ID)
	if first != second || first != fromBob {
		t.Fatalf("expected one chat, got %s %s %s", first, second, fromBob)
	}

	send(ctx, t, connA, proto.EventAccessChat, map[string]string{})
	expectChatError(ctx, t, connA, "UserId param not sent with request")
}

func TestGroupLifecycle(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, aliceToken := env.createUser(t, "alice")
	bob, _ := env.createUser(t, "bob")
	carol, _ := env.createUser(t, "carol")
	dave, _ := env.createUser(t, "dave")
	conn := env.dial(ctx, t, aliceToken)

	send(ctx, t, conn, proto.EventCreateGroup, map[string]any{
		"name":        "team",
		"users":       []string{bob.ID},
		"currentUser": map[string]string{"_id": alice.ID},
	})
	expectChatError(ctx, t, conn, "More than 2 users are required to form a group chat")

	send(ctx, t, conn, proto.EventCreateGroup, map[string]any{"users": []string{bob.ID, carol.ID}})
	expectChatError(ctx, t, conn, "Please fill all the fields")

	chatsOf, err := env.store.FindChatsForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("find chats: %v", err)
	}
	if len(chatsOf) != 0 {
		t.Fatalf("expected no chat persisted, got %d", len(chatsOf))
	}

	send(ctx, t, conn, proto.EventCreateGroup, map[string]any{
		"name":        "team",
		"users":       []string{bob.ID, carol.ID},
		"currentUser": alice.ID,
	})
	out := expect(ctx, t, conn, proto.EventGroupCreated)
	var group proto.Chat
	if err := json.Unmarshal(out.Data, &group); err != nil {
		t.Fatalf("decode group: %v", err)
	}
	if !group.IsGroupChat || group.GroupAdmin == nil || group.GroupAdmin.ID != alice.ID || len(group.Users) != 3 {
		t.Fatalf("unexpected group: %s", out.Data)
	}

	send(ctx, t, conn, proto.EventRenameGroup, map[string]string{"chatId": group.ID, "chatName": "crew"})
	out = expect(ctx, t, conn, proto.EventGroupRenamed)
	if !bytes.Contains(out.Data, []byte(`"chatName":"crew"`)) {
		t.Fatalf("expected renamed chat, got %s", out.Data)
	}

	send(ctx, t, conn, proto.EventAddToGroup, map[string]string{"chatId": group.ID, "userId": dave.ID})
	expect(ctx, t, conn, proto.EventUserAdded)
	send(ctx, t, conn, proto.EventRemoveFromGroup, map[string]string{"chatId": group.ID, "userId": bob.ID})
	out = expect(ctx, t, conn, proto.EventUserRemoved)
	if bytes.Contains(out.Data, []byte(bob.ID)) {
		t.Fatalf("expected bob removed, got %s", out.Data)
	}

	for _, tc := range []struct {
		event string
		data  map[string]string
	}{
		{proto.EventRenameGroup, map[string]string{"chatId": "ghost", "chatName": "x"}},
		{proto.EventAddToGroup, map[string]string{"chatId": "ghost", "userId": dave.ID}},
		{proto.EventRemoveFromGroup, map[string]string{"chatId": "ghost", "userId": dave.ID}},
	} {
		send(ctx, t, conn, tc.event, tc.data)
		expectChatError(ctx, t, conn, "Chat Not Found")
	}
}

func TestMalformedInputKeepsConnectionOpen(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, token := env.createUser(t, "alice")
	conn := env.dial(ctx, t, token)

	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectChatError(ctx, t, conn, "invalid payload")

	send(ctx, t, conn, "launch rockets", nil)
	expectChatError(ctx, t, conn, "unknown event")

	send(ctx, t, conn, proto.EventFetchAllMessages, []int{1})
	expectChatError(ctx, t, conn, "invalid payload")

	setup(ctx, t, conn)
}

func TestRateLimitedEventsAreRejected(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) {
		cfg.RateLimitPerSecond = 0.001
		cfg.RateLimitBurst = 1
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, token := env.createUser(t, "alice")
	conn := env.dial(ctx, t, token)

	setup(ctx, t, conn)
	send(ctx, t, conn, proto.EventSetup, nil)
	expectChatError(ctx, t, conn, "rate limit exceeded")
}

func TestDisconnectReleasesSession(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, token := env.createUser(t, "alice")
	conn := env.dial(ctx, t, token)
	setup(ctx, t, conn)

	room := core.PersonalRoom(alice.ID)
	if size := env.hub.RoomSize(room); size != 1 {
		t.Fatalf("expected 1 connection in personal room, got %d", size)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.RoomSize(room) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("personal room not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWaitBlocksUntilHandlersReturn(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, token := env.createUser(t, "alice")
	conn := env.dial(ctx, t, token)
	defer conn.Close(websocket.StatusNormalClosure, "")
	setup(ctx, t, conn)

	short, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelShort()
	if err := env.ws.Wait(short); err == nil {
		t.Fatalf("expected Wait to block while a connection is open")
	}

	// Stopping the hub releases the session, so the handler returns.
	hubCtx, stopHub := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		env.hub.Run(hubCtx)
		close(stopped)
	}()
	stopHub()
	<-stopped

	waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Second)
	defer cancelWait()
	if err := env.ws.Wait(waitCtx); err != nil {
		t.Fatalf("expected handlers drained after hub stop, got %v", err)
	}

	_, other := env.createUser(t, "bob")
	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws"
	late, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: stdhttp.Header{"Authorization": []string{"Bearer " + other}},
	})
	if err != nil {
		return
	}
	defer late.CloseNow()
	if _, _, err := late.Read(ctx); err == nil {
		t.Fatalf("expected connection after hub stop to be closed")
	}
}

func TestAccountEndpoints(t *testing.T) {
	env := startTestServer(t, nil)

	post := func(path, body string) *stdhttp.Response {
		resp, err := env.ts.Client().Post(env.ts.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post %s: %v", path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post("/api/register", `{"name":"Alice","email":"alice@example.com","password":"password123"}`)
	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("register: unexpected status %d", resp.StatusCode)
	}
	if resp = post("/api/register", `{"name":"Alice","email":"alice@example.com","password":"password123"}`); resp.StatusCode != stdhttp.StatusConflict {
		t.Fatalf("duplicate register: unexpected status %d", resp.StatusCode)
	}
	if resp = post("/api/login", `{"email":"alice@example.com","password":"nope"}`); resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("bad login: unexpected status %d", resp.StatusCode)
	}

	resp = post("/api/login", `{"email":"alice@example.com","password":"password123"}`)
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("login: unexpected status %d", resp.StatusCode)
	}
	var login AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	req, err := stdhttp.NewRequest(stdhttp.MethodGet, env.ts.URL+"/api/me", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+login.Token)
	me, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer me.Body.Close()

	var user proto.User
	if err := json.NewDecoder(me.Body).Decode(&user); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.StatusCode != stdhttp.StatusOK || user.ID != login.User.ID || user.Name != "Alice" {
		t.Fatalf("unexpected me response %d %+v", me.StatusCode, user)
	}
}
