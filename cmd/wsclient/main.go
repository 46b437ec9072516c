// Command wsclient is a simple WebSocket test client for the tagdeck
// companion feed.
// Usage: go run ./cmd/wsclient [-token TOKEN] ws://127.0.0.1:41114/ws
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	token := flag.String("token", "", "Bearer token from pairing (omit on an open host)")
	flag.Parse()

	url := "ws://127.0.0.1:41114/ws"
	if flag.NArg() > 0 {
		url = flag.Arg(0)
	}
	if *token != "" {
		url += "?token=" + *token
	}

	fmt.Printf("Connecting to %s...\n", url)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println("Connected! Waiting for events...")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	messageCount := 0

	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("Read error: %v\n", err)
				}
				return
			}

			messageCount++

			var msg map[string]interface{}
			if err := json.Unmarshal(data, &msg); err != nil {
				fmt.Printf("[%d] Raw: %s\n", messageCount, string(data))
				continue
			}

			msgType, _ := msg["type"].(string)
			fmt.Printf("[%d] type=%s", messageCount, msgType)

			if payload, ok := msg["payload"].(map[string]interface{}); ok {
				switch msgType {
				case "reader.status":
					if state, ok := payload["state"].(string); ok {
						fmt.Printf(" state=%s", state)
					}
				case "tag.present":
					if uid, ok := payload["uid"].(string); ok {
						fmt.Printf(" uid=%s", uid)
					}
					if card, ok := payload["card"].(map[string]interface{}); ok {
						if name, ok := card["name"].(string); ok {
							fmt.Printf(" card=%q", name)
						}
					}
				case "card.written":
					if passcode, ok := payload["passcode"].(string); ok {
						fmt.Printf(" passcode=%s", passcode)
					}
					if uid, ok := payload["uid"].(string); ok {
						fmt.Printf(" uid=%s", uid)
					}
				case "error":
					if code, ok := payload["code"].(string); ok {
						fmt.Printf(" code=%s", code)
					}
				}
			}
			fmt.Println()
		}
	}()

	select {
	case <-done:
		fmt.Println("Connection closed")
	case <-interrupt:
		fmt.Println("Interrupted")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}

	fmt.Printf("Total events received: %d\n", messageCount)
}
