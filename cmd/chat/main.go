// Command chat is a line-oriented terminal client for the relay: it keeps
// thread history in a local database and streams replies as they generate.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"chatrelay/internal/config"
	"chatrelay/internal/relayclient"
	"chatrelay/internal/session"
	"chatrelay/internal/store/boltstore"
	"chatrelay/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	store, err := boltstore.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("[chat] open store: %v", err)
	}
	defer store.Close()

	relay := relayclient.New(cfg.RelayBaseURL)

	models, err := relay.Models(ctx)
	if err != nil || len(models) == 0 {
		models = relayclient.DefaultModels()
	}
	model := cfg.DefaultModel
	if !contains(models, model) {
		model = models[0]
	}

	sess := session.New(store, relay, model)
	sess.SetOnDelta(func(delta string) {
		fmt.Print(delta)
	})

	// Best-effort cross-process refresh: local changes publish to Redis,
	// remote changes print a hint to re-list.
	if cfg.RedisAddr != "" {
		notifier := redisstore.NewNotifier(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer notifier.Close()

		local, cancel := store.Subscribe()
		defer cancel()
		go func() {
			for range local {
				if err := notifier.Publish(ctx); err != nil {
					log.Printf("[chat] publish refresh: %v", err)
				}
			}
		}()
		go func() {
			for range notifier.Watch(ctx) {
				fmt.Println("\n(chat list changed elsewhere, /list to refresh)")
			}
		}()
	}

	fmt.Printf("model: %s  (/help for commands)\n", model)

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := command(sess, models, line); quit {
				return
			}
			continue
		}

		if err := sess.SendMessage(ctx, line); err != nil {
			fmt.Printf("send failed: %v\n", err)
			continue
		}
		fmt.Println()
	}
}

func command(sess *session.Session, models []string, line string) (quit bool) {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/help":
		fmt.Println("/list /new /open <n> /delete <n> /models /model <name> /settings /toggle <key> /quit")

	case "/list":
		chats, err := sess.Chats()
		if err != nil {
			fmt.Printf("list failed: %v\n", err)
			return
		}
		for i, c := range chats {
			marker := " "
			if c.ID == sess.Selected() {
				marker = "*"
			}
			fmt.Printf("%s %2d. %s (%d messages)\n", marker, i+1, c.Title, c.Messages)
		}

	case "/new":
		c, err := sess.CreateChat()
		if err != nil {
			fmt.Printf("create failed: %v\n", err)
			return
		}
		if err := sess.SelectChat(c.ID); err != nil {
			fmt.Printf("open failed: %v\n", err)
		}

	case "/open":
		id, err := resolve(sess, arg)
		if err != nil {
			fmt.Println(err)
			return
		}
		if err := sess.SelectChat(id); err != nil {
			fmt.Printf("open failed: %v\n", err)
			return
		}
		for _, m := range sess.Messages() {
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}

	case "/delete":
		id, err := resolve(sess, arg)
		if err != nil {
			fmt.Println(err)
			return
		}
		if err := sess.DeleteChat(id); err != nil {
			fmt.Printf("delete failed: %v\n", err)
		}

	case "/models":
		for _, m := range models {
			fmt.Println(m)
		}

	case "/model":
		if arg == "" {
			fmt.Println("usage: /model <name>")
			return
		}
		sess.SetModel(arg)

	case "/settings":
		settings, err := sess.Settings()
		if err != nil {
			fmt.Printf("settings failed: %v\n", err)
			return
		}
		fmt.Printf("notifications=%v messagePreview=%v saveChatHistory=%v\n",
			settings.Notifications, settings.MessagePreview, settings.SaveChatHistory)
		for k, v := range settings.EnabledIntegrations {
			fmt.Printf("  %s=%v\n", k, v)
		}

	case "/toggle":
		if arg == "" {
			fmt.Println("usage: /toggle <integration>")
			return
		}
		if err := sess.ToggleIntegration(arg); err != nil {
			fmt.Printf("toggle failed: %v\n", err)
		}

	case "/quit", "/exit":
		return true

	default:
		fmt.Println("unknown command, /help for help")
	}
	return false
}

// resolve accepts either a 1-based list index or a thread id.
func resolve(sess *session.Session, arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("usage: /open <n|id>")
	}
	if n, err := strconv.Atoi(arg); err == nil {
		chats, err := sess.Chats()
		if err != nil {
			return "", err
		}
		if n < 1 || n > len(chats) {
			return "", fmt.Errorf("no chat #%d", n)
		}
		return chats[n-1].ID, nil
	}
	return arg, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
