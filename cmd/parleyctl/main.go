package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/ctl"
	"github.com/parley-chat/parley/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	fileFlag := flag.String("file", "", "attachment path for send")
	limitFlag := flag.Int("limit", 0, "result limit for messages and search")
	inFlag := flag.String("in", "", "conversation filter for search")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := ctl.New(profile.SocketPath(profileName))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "conversations":
		cmdConversations(ctx, c, *jsonFlag)
	case "conversation":
		requireArgs(args, 2, "parleyctl conversation <id>")
		cmdConversation(ctx, c, args[1], *jsonFlag)
	case "messages":
		requireArgs(args, 2, "parleyctl messages <conversation-id>")
		cmdMessages(ctx, c, args[1], *limitFlag, *jsonFlag)
	case "send":
		if len(args) < 2 || (len(args) < 3 && *fileFlag == "") {
			fmt.Fprintln(os.Stderr, "usage: parleyctl [--file <path>] send <conversation-id> [text...]")
			os.Exit(1)
		}
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), *fileFlag)
	case "direct":
		requireArgs(args, 2, "parleyctl direct <user-id>")
		cmdDirect(ctx, c, args[1], *jsonFlag)
	case "create":
		requireArgs(args, 3, "parleyctl create <name> <user-id>...")
		cmdCreate(ctx, c, args[1], args[2:], *jsonFlag)
	case "label":
		requireArgs(args, 2, "parleyctl label <conversation-id> [label]")
		lbl := ""
		if len(args) > 2 {
			lbl = args[2]
		}
		cmdLabel(ctx, c, args[1], lbl)
	case "participants":
		cmdParticipants(ctx, c, args[1:])
	case "users":
		cmdUsers(ctx, c, *jsonFlag)
	case "search":
		requireArgs(args, 2, "parleyctl [--in <conversation-id>] search <query>")
		cmdSearch(ctx, c, strings.Join(args[1:], " "), *inFlag, *limitFlag, *jsonFlag)
	case "watch":
		cmdWatch(c, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: parleyctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon status")
	fmt.Fprintln(os.Stderr, "  conversations                   List conversations, most recent activity first")
	fmt.Fprintln(os.Stderr, "  conversation <id>               Show one conversation with participants")
	fmt.Fprintln(os.Stderr, "  messages <id>                   Show a transcript grouped by date")
	fmt.Fprintln(os.Stderr, "  send <id> [text...]             Send a message (--file attaches a file)")
	fmt.Fprintln(os.Stderr, "  direct <user-id>                Open the direct conversation with a user")
	fmt.Fprintln(os.Stderr, "  create <name> <user-id>...      Create a conversation")
	fmt.Fprintln(os.Stderr, "  label <id> [label]              Set a label, empty clears")
	fmt.Fprintln(os.Stderr, "  participants add <id> <uid>...  Add participants")
	fmt.Fprintln(os.Stderr, "  participants rm <id> <uid>      Remove a participant")
	fmt.Fprintln(os.Stderr, "  users                           List the user directory")
	fmt.Fprintln(os.Stderr, "  search <query>                  Full-text search (--in filters by conversation)")
	fmt.Fprintln(os.Stderr, "  watch                           Stream daemon events")
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: %s\n", usage)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdStatus(ctx context.Context, c *ctl.Client, jsonOut bool) {
	st, err := c.Status(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Profile: %s\n", st.Profile)
	fmt.Printf("State:   %s\n", st.State)
	fmt.Printf("User:    %s\n", st.UserID)
}

func cmdConversations(ctx context.Context, c *ctl.Client, jsonOut bool) {
	convs, err := c.Conversations(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, conv := range convs {
		kind := "direct"
		if conv.IsGroup {
			kind = "group"
		}
		name := conv.Name
		if name == "" {
			name = conv.ID
		}
		line := fmt.Sprintf("%-36s %-7s %s", conv.ID, kind, name)
		if conv.Label != "" {
			line += " [" + conv.Label + "]"
		}
		if conv.LastMessagePreview != "" {
			line += "  " + conv.LastMessagePreview
		}
		fmt.Println(line)
	}
}

func cmdConversation(ctx context.Context, c *ctl.Client, id string, jsonOut bool) {
	conv, err := c.Conversation(ctx, id)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(conv)
		return
	}
	fmt.Printf("ID:      %s\n", conv.ID)
	fmt.Printf("Name:    %s\n", conv.Name)
	fmt.Printf("Group:   %v\n", conv.IsGroup)
	if conv.Label != "" {
		fmt.Printf("Label:   %s\n", conv.Label)
	}
	fmt.Println("Participants:")
	for _, u := range conv.Participants {
		fmt.Printf("  %-36s %s\n", u.ID, u.Name)
	}
}

func cmdMessages(ctx context.Context, c *ctl.Client, id string, limit int, jsonOut bool) {
	buckets, err := c.Messages(ctx, id, limit)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(buckets)
		return
	}
	for _, bucket := range buckets {
		fmt.Printf("--- %s ---\n", bucket.Key)
		for _, m := range bucket.Messages {
			ts := time.UnixMilli(m.Timestamp).Format("15:04")
			marker := ""
			if m.Provisional {
				marker = " (sending)"
			} else if m.Status == "failed" {
				marker = " (failed)"
			}
			body := m.Content
			if m.Attachment != nil {
				body = fmt.Sprintf("%s [%s]", body, m.Attachment.Name)
			}
			fmt.Printf("%s  %-36s %s%s\n", ts, m.SenderID, body, marker)
		}
	}
}

func cmdSend(ctx context.Context, c *ctl.Client, id, text, attachmentPath string) {
	clientMsgID, err := c.Send(ctx, id, text, attachmentPath)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Queued: %s\n", clientMsgID)
}

func cmdDirect(ctx context.Context, c *ctl.Client, userID string, jsonOut bool) {
	conv, err := c.DirectConversation(ctx, userID)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(conv)
		return
	}
	fmt.Printf("Conversation: %s\n", conv.ID)
}

func cmdCreate(ctx context.Context, c *ctl.Client, name string, userIDs []string, jsonOut bool) {
	conv, err := c.CreateConversation(ctx, name, userIDs)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(conv)
		return
	}
	fmt.Printf("Created: %s\n", conv.ID)
}

func cmdLabel(ctx context.Context, c *ctl.Client, id, label string) {
	if err := c.SetLabel(ctx, id, label); err != nil {
		fatal(err)
	}
	if label == "" {
		fmt.Println("Label cleared.")
	} else {
		fmt.Printf("Label set: %s\n", label)
	}
}

func cmdParticipants(ctx context.Context, c *ctl.Client, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: parleyctl participants <add|rm> <conversation-id> <user-id>...")
		os.Exit(1)
	}
	switch args[0] {
	case "add":
		if err := c.AddParticipants(ctx, args[1], args[2:]); err != nil {
			fatal(err)
		}
		fmt.Printf("Added %d participant(s).\n", len(args[2:]))
	case "rm":
		if err := c.RemoveParticipant(ctx, args[1], args[2]); err != nil {
			fatal(err)
		}
		fmt.Println("Removed.")
	default:
		fmt.Fprintf(os.Stderr, "unknown participants subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdUsers(ctx context.Context, c *ctl.Client, jsonOut bool) {
	users, err := c.Users(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	for _, u := range users {
		fmt.Printf("%-36s %s\n", u.ID, u.Name)
	}
}

func cmdSearch(ctx context.Context, c *ctl.Client, query, conversationID string, limit int, jsonOut bool) {
	results, err := c.Search(ctx, query, conversationID, limit)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, res := range results {
		fmt.Printf("%-36s %s\n", res.Message.ConversationID, res.Snippet)
	}
}

func cmdWatch(c *ctl.Client, jsonOut bool) {
	// No timeout: the stream runs until interrupted.
	ctx := context.Background()
	ch, err := c.Watch(ctx)
	if err != nil {
		fatal(err)
	}
	for evt := range ch {
		if jsonOut {
			outputJSON(evt)
			continue
		}
		ts := time.UnixMilli(evt.Timestamp).Format("15:04:05")
		fmt.Printf("%s  %-28s %s\n", ts, evt.Kind, string(evt.Payload))
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
