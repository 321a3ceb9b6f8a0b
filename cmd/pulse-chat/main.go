// pulse-chat is a small terminal chat client demonstrating the binding
// layer: live message lists per channel, channel switching with retained
// previous data, and mutation/action calls.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mkoppen/pulse/binding"
	"github.com/mkoppen/pulse/client"
	"github.com/mkoppen/pulse/internal/server/funcs"
	"github.com/mkoppen/pulse/pkg/logger"
	"github.com/mkoppen/pulse/reactive"
	"github.com/mkoppen/pulse/wire"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	serverURL := flag.String("server", "http://localhost:3010", "pulse server URL")
	handle := flag.String("handle", "", "account handle")
	secret := flag.String("secret", "", "account secret")
	channel := flag.String("channel", "general", "channel to join")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logger.SetLevel(logger.LevelDebug)
	}
	if *handle == "" || *secret == "" {
		return fmt.Errorf("-handle and -secret are required")
	}

	token, err := authenticate(*serverURL, *handle, *secret)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	scope, err := binding.OpenScope(*serverURL, client.Options{Token: token})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer scope.Close()

	rt := scope.Runtime()
	activeChannel := reactive.NewSignal(rt, *channel)

	messages, err := binding.Query(scope, "messages:list",
		func(t *reactive.Tracker) wire.Args {
			return wire.Args{"channel": activeChannel.Watch(t)}
		},
		binding.QueryOptions{
			InitialData:      []any{},
			KeepPreviousData: true,
		})
	if err != nil {
		return err
	}

	channels, err := binding.Query(scope, "channels:list", nil, nil)
	if err != nil {
		return err
	}

	sendMessage, err := binding.Mutation(scope, "messages:send")
	if err != nil {
		return err
	}
	createChannel, err := binding.Mutation(scope, "channels:create")
	if err != nil {
		return err
	}
	heartbeat, err := binding.Action(scope, "presence:heartbeat")
	if err != nil {
		return err
	}

	// Render new messages as they arrive. The effect re-runs on every push
	// and on channel switches; lastSeq resets when the channel changes.
	lastSeq := int64(0)
	renderedChannel := ""
	rt.NewEffect(func(t *reactive.Tracker) {
		ch := activeChannel.Watch(t)
		res := messages.Watch(t)

		if ch != renderedChannel {
			renderedChannel = ch
			lastSeq = 0
			fmt.Printf("--- #%s ---\n", ch)
		}
		if res.Err != nil {
			fmt.Printf("! %v\n", res.Err)
			return
		}
		if !res.HasValue || res.IsStale {
			return
		}
		for _, m := range decodeMessages(res.Value) {
			if m.Seq <= lastSeq {
				continue
			}
			lastSeq = m.Seq
			fmt.Printf("[%s] %s\n", m.Author, m.Text)
		}
	})

	// Presence heartbeat for the active channel.
	stopBeat := make(chan struct{})
	defer close(stopBeat)
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopBeat:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_, err := heartbeat.Call(ctx, wire.Args{"channel": activeChannel.Get()})
				cancel()
				if err != nil {
					logger.Debugf("heartbeat failed: %v", err)
				}
			}
		}
	}()

	// Make sure the starting channel exists before the first send.
	if _, err := createChannel.Call(context.Background(), wire.Args{"name": *channel}); err != nil {
		logger.Warnf("failed to ensure channel %s: %v", *channel, err)
	}

	fmt.Printf("Connected as %s. Commands: /join <channel>, /channels, /quit\n", *handle)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue

		case line == "/quit":
			return nil

		case line == "/channels":
			res := channels.Snapshot()
			if res.Err != nil {
				fmt.Printf("! %v\n", res.Err)
				continue
			}
			for _, c := range decodeChannels(res.Value) {
				fmt.Printf("  #%s (created by %s)\n", c.Name, c.CreatedBy)
			}

		case strings.HasPrefix(line, "/join "):
			name := strings.TrimSpace(strings.TrimPrefix(line, "/join "))
			if name == "" {
				fmt.Println("usage: /join <channel>")
				continue
			}
			if _, err := createChannel.Call(context.Background(), wire.Args{"name": name}); err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			activeChannel.Set(name)

		case strings.HasPrefix(line, "/"):
			fmt.Printf("unknown command %s\n", line)

		default:
			_, err := sendMessage.Call(context.Background(), wire.Args{
				"channel": activeChannel.Get(),
				"text":    line,
			})
			if err != nil {
				fmt.Printf("! %v\n", err)
			}
		}
	}
	return scanner.Err()
}

// authenticate exchanges handle/secret for a bearer token over HTTP.
func authenticate(serverURL, handle, secret string) (string, error) {
	body, err := json.Marshal(wire.AuthRequest{Handle: handle, Secret: secret})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(serverURL+"/v1/auth", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var auth wire.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", err
	}
	if !auth.Success {
		return "", fmt.Errorf("server rejected credentials: %s", auth.Error)
	}
	return auth.Token, nil
}

func decodeMessages(v any) []funcs.MessageView {
	var out []funcs.MessageView
	if err := wire.DecodeAny(v, &out); err != nil {
		logger.Debugf("malformed message list: %v", err)
		return nil
	}
	return out
}

func decodeChannels(v any) []funcs.ChannelView {
	var out []funcs.ChannelView
	if err := wire.DecodeAny(v, &out); err != nil {
		logger.Debugf("malformed channel list: %v", err)
		return nil
	}
	return out
}
