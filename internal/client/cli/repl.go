package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Ping(ctx context.Context, args []string) error
	Send(ctx context.Context, args []string) error
	Group(ctx context.Context, args []string) error
	Inbox(ctx context.Context, args []string) error
	Read(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Devices(ctx context.Context, args []string) error
	Revoke(ctx context.Context, args []string) error
	Upload(ctx context.Context, args []string) error
	URL(ctx context.Context, args []string) error
	Attach(ctx context.Context, args []string) error
	Fetch(ctx context.Context, args []string) error
	History(ctx context.Context, args []string) error
}

// runREPL reads commands line by line and dispatches them to a. The loop
// exits on scanner EOF, on ctx cancellation or when the user types "exit"
// or "quit". Command errors are printed and the loop continues.
//
//	help                      show available commands
//	send <to> <text>          direct message
//	group <a,b,...> <text>    group message
//	inbox                     fetch undelivered messages
//	read <id...>              mark messages read
//	status <id...>            delivery and read status
//	devices                   online devices of this account
//	revoke <device>           remove a device of this account
//	upload                    presigned attachment upload URL
//	url <key>                 presigned attachment download URL
//	attach <file>             upload a file, print its storage key
//	fetch <key>               download an attachment
//	history [peer] [limit]    locally stored messages
//	ping                      round trip to the server
func runREPL(ctx context.Context, a execIface, scanner *bufio.Scanner) {
	commands := map[string]func(context.Context, []string) error{
		"ping":    a.Ping,
		"send":    a.Send,
		"group":   a.Group,
		"inbox":   a.Inbox,
		"read":    a.Read,
		"status":  a.Status,
		"devices": a.Devices,
		"revoke":  a.Revoke,
		"upload":  a.Upload,
		"url":     a.URL,
		"attach":  a.Attach,
		"fetch":   a.Fetch,
		"history": a.History,
	}

	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn("relay> ")
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn("Available commands: send, group, inbox, read, status, devices, revoke, upload, url, attach, fetch, history, ping, exit")
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			fn, ok := commands[cmd]
			if !ok {
				printlnFn("Unknown command:", cmd)
				continue
			}
			if err := fn(ctx, args); err != nil {
				printlnFn("Error:", err)
			}
		}
	}
}
