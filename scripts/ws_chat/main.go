package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/chatgate/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", os.Getenv("CHATGATE_TOKEN"), "bearer token")
	header := flag.String("header", "Authorization", "handshake header carrying the token")
	peer := flag.String("peer", "", "user id to chat with")
	flag.Parse()

	if *token == "" || *peer == "" {
		return errors.New("-token and -peer are required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{
		HTTPHeader: http.Header{*header: []string{"Bearer " + *token}},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.EventSetup, nil); err != nil {
		return err
	}
	if err := send(ctx, conn, proto.EventAccessChat, map[string]string{"userId": *peer}); err != nil {
		return err
	}

	// Wait for the chat before accepting input.
	var chat *proto.Chat
	for chat == nil {
		var msg inbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch msg.Event {
		case proto.EventAccessChat:
			chat = &proto.Chat{}
			if err := json.Unmarshal(msg.Data, chat); err != nil {
				return fmt.Errorf("decode chat: %w", err)
			}
		case proto.EventChatError:
			return fmt.Errorf("access chat: %s", msg.Data)
		}
	}
	if err := send(ctx, conn, proto.EventJoinChat, chat.ID); err != nil {
		return err
	}

	fmt.Printf("Connected to %s, chat %s with %d members\n", *addr, chat.ID, len(chat.Users))
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, chat)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, event string, data any) error {
	out := map[string]any{"event": event}
	if data != nil {
		out["data"] = data
	}
	if err := wsjson.Write(ctx, conn, out); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg inbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch msg.Event {
		case proto.EventMessageReceived:
			var m proto.Message
			if err := json.Unmarshal(msg.Data, &m); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			name := "?"
			if m.Sender != nil {
				name = m.Sender.Name
			}
			fmt.Printf("%s: %s\n", name, m.Content)
		case proto.EventTyping:
			fmt.Println("(typing...)")
		case proto.EventStopTyping:
		case proto.EventChatError:
			fmt.Printf("error: %s\n", msg.Data)
		default:
			fmt.Printf("event=%s data=%s\n", msg.Event, msg.Data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, chat *proto.Chat) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	users := make([]string, 0, len(chat.Users))
	for _, u := range chat.Users {
		users = append(users, u.ID)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			payload := map[string]any{
				"content": text,
				"chat":    map[string]any{"_id": chat.ID, "users": users},
			}
			if err := send(ctx, conn, proto.EventNewMessage, payload); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
