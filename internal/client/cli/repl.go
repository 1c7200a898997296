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
	Send(ctx context.Context, to, text string) error
	Broadcast(ctx context.Context, text string) error
	Contacts(ctx context.Context) error
	AddContact(ctx context.Context, name string) error
	RemoveContact(ctx context.Context, name string) error
	Users(ctx context.Context) error
	ShowKey(ctx context.Context, user string) error
}

// runREPL starts a simple read–eval–print loop for the chat CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Commands:
//
//	help                 — show available commands
//	msg <user> <text>    — send a direct message (alias: m)
//	all <text>           — send a message to everyone
//	contacts             — list contacts (alias: c)
//	add <user>           — add a contact
//	del <user>           — remove a contact
//	users                — list all registered users (alias: u)
//	key <user>           — show a user's public key
//	exit | quit          — leave the program
//
// Any errors returned by command handlers are ignored here; handlers should
// report their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("chat %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			printlnFn("Available commands: msg <user> <text>, all <text>, (c)ontacts, add <user>, del <user>, (u)sers, key <user>, exit")

		case "m", "msg":
			if len(args) < 2 {
				printlnFn("Usage: msg <user> <text>")
				continue
			}
			_ = a.Send(ctx, args[0], strings.Join(args[1:], " "))

		case "all":
			if len(args) == 0 {
				printlnFn("Usage: all <text>")
				continue
			}
			_ = a.Broadcast(ctx, strings.Join(args, " "))

		case "c", "contacts":
			_ = a.Contacts(ctx)

		case "add":
			if len(args) == 0 {
				printlnFn("Usage: add <user>")
				continue
			}
			_ = a.AddContact(ctx, args[0])

		case "del":
			if len(args) == 0 {
				printlnFn("Usage: del <user>")
				continue
			}
			_ = a.RemoveContact(ctx, args[0])

		case "u", "users":
			_ = a.Users(ctx)

		case "key":
			if len(args) == 0 {
				printlnFn("Usage: key <user>")
				continue
			}
			_ = a.ShowKey(ctx, args[0])

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
