package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/matheus3301/lensdm/internal/api"
	"github.com/matheus3301/lensdm/internal/lock"
	"github.com/matheus3301/lensdm/internal/session"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "request timeout; auth waits for the wallet so raise it there")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if args[0] == "sessions" {
		cmdSessions(*jsonFlag)
		return
	}

	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		namespace := ""
		if len(args) > 1 {
			namespace = args[1]
		}
		cmdWatch(c, namespace, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	var resp *structpb.Struct
	switch args[0] {
	case "status":
		resp, err = c.GetStatus(ctx)
		if err == nil && !*jsonFlag {
			printStatus(resp)
			return
		}
	case "previews":
		tab := ""
		if len(args) > 1 {
			tab = args[1]
		}
		resp, err = c.GetOrderedPreviews(ctx, tab)
		if err == nil && !*jsonFlag {
			printPreviews(resp)
			return
		}
	case "tab":
		requireArgs(args, 2, "tab <inbox|following>")
		resp, err = c.SelectTab(ctx, args[1])
	case "active":
		requireArgs(args, 2, "active <conversation-key>")
		resp, err = c.MarkActive(ctx, args[1])
	case "unsync":
		requireArgs(args, 2, "unsync <profile-id>")
		resp, err = c.UnsyncProfile(ctx, args[1])
	case "badge":
		requireArgs(args, 2, "badge <profile-id>")
		resp, err = c.GetBadge(ctx, args[1])
	case "start":
		requireArgs(args, 3, "start <profile-id> <owner-address> [handle] [--followed]")
		fields := map[string]any{"profile_id": args[1], "owned_by": args[2]}
		for _, a := range args[3:] {
			if a == "--followed" {
				fields["is_followed_by_me"] = true
			} else {
				fields["handle"] = a
			}
		}
		resp, err = c.StartConversation(ctx, fields)
	case "auth":
		resp, err = c.Authenticate(ctx)
	case "retry":
		resp, err = c.Retry(ctx)
	case "resync":
		resp, err = c.Resync(ctx)
	case "logout":
		resp, err = c.Logout(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
	output(resp, *jsonFlag)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: lensdmctl [--session <name>] [--json] [--timeout <d>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show gate, loading and profile sync state")
	fmt.Fprintln(os.Stderr, "  previews [tab]              List conversations newest first")
	fmt.Fprintln(os.Stderr, "  tab <inbox|following>       Select the visible tab")
	fmt.Fprintln(os.Stderr, "  active <key>                Mark a conversation as open")
	fmt.Fprintln(os.Stderr, "  unsync <profile-id>         Drop a profile snapshot")
	fmt.Fprintln(os.Stderr, "  badge <profile-id>          Show the unread badge count")
	fmt.Fprintln(os.Stderr, "  start <id> <address> ...    Start a conversation with a profile")
	fmt.Fprintln(os.Stderr, "  auth                        Sign in to the messaging network")
	fmt.Fprintln(os.Stderr, "  retry                       Retry a failed sign-in")
	fmt.Fprintln(os.Stderr, "  resync                      Re-fetch missing profiles")
	fmt.Fprintln(os.Stderr, "  logout                      Sign out and clear session data")
	fmt.Fprintln(os.Stderr, "  watch [namespace]           Stream change events")
	fmt.Fprintln(os.Stderr, "  sessions                    List known sessions")
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: lensdmctl %s\n", usage)
		os.Exit(1)
	}
}

func fail(err error) {
	if st, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", st.Code(), st.Message())
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

func printStatus(resp *structpb.Struct) {
	f := resp.GetFields()
	fmt.Printf("Session:   %s\n", f["session"].GetStringValue())
	fmt.Printf("Account:   %s\n", f["account_profile_id"].GetStringValue())
	fmt.Printf("Gate:      %s\n", f["gate"].GetStringValue())
	fmt.Printf("Tab:       %s\n", f["tab"].GetStringValue())
	if f["awaiting_signature"].GetBoolValue() {
		fmt.Println("Awaiting signature to enable messages")
	}
	if f["loading"].GetBoolValue() {
		fmt.Println("Loading:   yes")
	}
	if p, ok := f["ingestion_progress"].GetKind().(*structpb.Value_NumberValue); ok {
		fmt.Printf("Progress:  %d%%\n", int(p.NumberValue))
	}
	if e := f["profiles_error"].GetStringValue(); e != "" {
		fmt.Printf("Error:     %s\n", e)
	}
}

func printPreviews(resp *structpb.Struct) {
	rows := resp.GetFields()["rows"].GetListValue().GetValues()
	if len(rows) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, v := range rows {
		row := v.GetStructValue().GetFields()
		pv := row["preview"].GetStructValue().GetFields()
		when := "-"
		if ms, ok := pv["sent_at_ms"].GetKind().(*structpb.Value_NumberValue); ok {
			when = time.UnixMilli(int64(ms.NumberValue)).Local().Format("2006-01-02 15:04")
		}
		unread := ""
		if n := int(pv["unread_count"].GetNumberValue()); n > 0 {
			unread = fmt.Sprintf(" (%d)", n)
		}
		fmt.Printf("%-16s %-24s%s %s\n", when, row["display_name"].GetStringValue(), unread, pv["snippet"].GetStringValue())
	}
}

func cmdWatch(c *api.Client, namespace string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stream, err := c.WatchChanges(ctx, namespace)
	if err != nil {
		fail(err)
	}
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		if err != nil {
			fail(err)
		}
		if jsonOut {
			output(evt, true)
			continue
		}
		f := evt.GetFields()
		at := time.UnixMilli(int64(f["occurred_at_ms"].GetNumberValue())).Local().Format(time.TimeOnly)
		payload, _ := protojson.Marshal(f["payload"])
		fmt.Printf("%s %-24s %s\n", at, f["kind"].GetStringValue(), payload)
	}
}

// cmdSessions lists session directories; a held lock means a daemon is up.
func cmdSessions(jsonOut bool) {
	entries, err := os.ReadDir(filepath.Join(session.BaseDir(), "sessions"))
	if err != nil && !os.IsNotExist(err) {
		fail(err)
	}
	var list []any
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		running := false
		if l, err := lock.Acquire(session.Dir(name)); err != nil {
			var held *lock.LockHeldError
			running = errors.As(err, &held)
		} else {
			_ = l.Release()
		}
		list = append(list, map[string]any{"name": name, "path": session.Dir(name), "daemon_running": running})
	}
	if jsonOut {
		v, err := structpb.NewList(list)
		if err != nil {
			fail(err)
		}
		output(v, true)
		return
	}
	if len(list) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, v := range list {
		s := v.(map[string]any)
		state := "stopped"
		if s["daemon_running"].(bool) {
			state = "running"
		}
		fmt.Printf("%-20s %s (%s)\n", s["name"], s["path"], state)
	}
}

func output(m proto.Message, jsonOut bool) {
	opts := protojson.MarshalOptions{}
	if jsonOut {
		opts.Multiline = true
		opts.Indent = "  "
	}
	b, err := opts.Marshal(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	fmt.Println(string(b))
}
