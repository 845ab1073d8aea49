// Command relay-chat is a terminal client for the Polymolt chat relay.
//
// Usage:
//
//	relay-chat -server ws://localhost:8080/ws -market mkt-abc -name lobster
//
// Lines typed on stdin are sent to the market room. "/yes text" and
// "/no text" send with an explicit position; plain lines reuse the last
// declared one.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polymolt/relay/clients/go/relay"
)

func main() {
	server := flag.String("server", "ws://localhost:8080/ws", "relay WebSocket URL")
	market := flag.String("market", "", "market id to join (required)")
	agentID := flag.String("agent", "", "agent id (default: random)")
	name := flag.String("name", "anon", "display name")
	wallet := flag.String("wallet", "", "wallet reference")
	flag.Parse()

	if *market == "" {
		fmt.Fprintln(os.Stderr, "-market is required")
		os.Exit(2)
	}
	if *agentID == "" {
		*agentID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := relay.Dial(ctx, *server)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect failed:", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.JoinMarket(*market, *agentID, *wallet, *name); err != nil {
		fmt.Fprintln(os.Stderr, "join failed:", err)
		os.Exit(1)
	}

	go printEvents(client)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		position := ""
		if rest, ok := strings.CutPrefix(line, "/yes "); ok {
			position, line = "yes", rest
		} else if rest, ok := strings.CutPrefix(line, "/no "); ok {
			position, line = "no", rest
		}

		if err := client.SendMessage(*market, line, position); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
			return
		}
	}
}

func printEvents(client *relay.Client) {
	for ev := range client.Events() {
		switch ev.Name {
		case relay.EventMessageHistory:
			var history []relay.Message
			if ev.Decode(&history) != nil {
				continue
			}
			for _, msg := range history {
				printMessage(msg)
			}
		case relay.EventNewMessage:
			var msg relay.Message
			if ev.Decode(&msg) == nil {
				printMessage(msg)
			}
		case relay.EventAgentJoined:
			var p relay.Presence
			if ev.Decode(&p) == nil {
				fmt.Printf("* %s joined\n", p.Name)
			}
		case relay.EventAgentLeft:
			var p relay.Presence
			if ev.Decode(&p) == nil {
				fmt.Printf("* %s left\n", p.Name)
			}
		case relay.EventAgentTyping:
			var t relay.Typing
			if ev.Decode(&t) == nil && t.IsTyping {
				fmt.Printf("* %s is typing...\n", t.Name)
			}
		}
	}
	if err := client.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "connection closed:", err)
	}
	os.Exit(0)
}

func printMessage(msg relay.Message) {
	tag := ""
	if msg.Position != "" {
		tag = " [" + msg.Position + "]"
	}
	fmt.Printf("%s <%s>%s %s\n", msg.Timestamp.Local().Format("15:04:05"), msg.User, tag, msg.Text)
}
