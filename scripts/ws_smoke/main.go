package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/chatgate/internal/proto"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", os.Getenv("CHATGATE_TOKEN"), "bearer token")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + *token}},
	})
	if err != nil {
		if resp != nil {
			log.Fatalf("dial: %v (status %d)", err, resp.StatusCode)
		}
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for _, event := range []string{proto.EventSetup, proto.EventFetchChats} {
		if err := wsjson.Write(ctx, conn, proto.Inbound{Event: event}); err != nil {
			log.Fatalf("send %s: %v", event, err)
		}
	}

	for _, want := range []string{proto.EventConnected, proto.EventFetchChats} {
		var out struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			log.Fatalf("read: %v", err)
		}
		if out.Event != want {
			log.Fatalf("expected %q, got %q: %s", want, out.Event, out.Data)
		}
		if out.Event == proto.EventFetchChats {
			var chats []json.RawMessage
			if err := json.Unmarshal(out.Data, &chats); err != nil {
				log.Fatalf("decode chats: %v", err)
			}
			fmt.Printf("ok: %d chats\n", len(chats))
		}
	}
}
