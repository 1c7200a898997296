package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/vkuskov/meeseng/internal/client/chat"
	"github.com/vkuskov/meeseng/internal/client/config"
	"github.com/vkuskov/meeseng/internal/protocol"
)

type App struct {
	config *config.Config
	conn   *chat.Client
	reader *bufio.Reader
}

func NewApp(c *config.Config) (*App, error) {
	return &App{config: c, reader: bufio.NewReader(os.Stdin)}, nil
}

// Run connects, authenticates and hands control to the REPL. It returns
// once the user quits or the connection is lost.
func (a *App) Run(ctx context.Context) error {

	username := a.config.Username
	if username == "" {
		var err error
		username, err = GetSimpleText(a.reader, "Account name", os.Stdout)
		if err != nil {
			return err
		}
	}

	password, err := GetPassword(os.Stdout)
	if err != nil {
		return err
	}

	pubkey := ""
	if a.config.PubKeyFile != "" {
		b, err := os.ReadFile(a.config.PubKeyFile)
		if err != nil {
			return fmt.Errorf("read public key: %w", err)
		}
		pubkey = string(b)
	}

	conn, err := chat.Dial(ctx, a.config.ServerAddr)
	if err != nil {
		return err
	}

	if err := conn.Login(username, password, pubkey); err != nil {
		conn.Close()
		return fmt.Errorf("login: %w", err)
	}
	a.conn = conn

	printlnFn("Logged in. Type 'help' for commands.")

	go a.watchEvents(ctx)

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))

	return a.conn.Quit()
}

func (a *App) getStatus() string {
	return fmt.Sprintf("(%s@%s)", a.conn.Username(), a.config.ServerAddr)
}

// watchEvents prints messages the server pushes outside of any request.
func (a *App) watchEvents(ctx context.Context) {
	for {
		select {
		case msg := <-a.conn.Events():
			switch {
			case msg.Action == protocol.ActionMessage:
				printlnFn(fmt.Sprintf("[%s] %s", msg.From, msg.Text))
			case msg.Response == protocol.ResponseServiceRefresh:
				printlnFn("* user list changed, 'users' to refresh *")
			}
		case <-a.conn.Done():
			printlnFn("Connection lost.")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.config.RequestTimeout)
}

func (a *App) Send(ctx context.Context, to, text string) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if err := a.conn.SendText(ctx, to, text); err != nil {
		printlnFn("Error:", err)
		return err
	}
	return nil
}

func (a *App) Broadcast(ctx context.Context, text string) error {
	return a.Send(ctx, protocol.BroadcastDest, text)
}

func (a *App) Contacts(ctx context.Context) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	contacts, err := a.conn.Contacts(ctx)
	if err != nil {
		printlnFn("Error:", err)
		return err
	}
	printNames("Contacts", contacts)
	return nil
}

func (a *App) AddContact(ctx context.Context, name string) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if err := a.conn.AddContact(ctx, name); err != nil {
		printlnFn("Error:", err)
		return err
	}
	printlnFn("Added:", name)
	return nil
}

func (a *App) RemoveContact(ctx context.Context, name string) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if err := a.conn.RemoveContact(ctx, name); err != nil {
		printlnFn("Error:", err)
		return err
	}
	printlnFn("Removed:", name)
	return nil
}

func (a *App) Users(ctx context.Context) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	users, err := a.conn.Users(ctx)
	if err != nil {
		printlnFn("Error:", err)
		return err
	}
	printNames("Users", users)
	return nil
}

func (a *App) ShowKey(ctx context.Context, user string) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	key, err := a.conn.PublicKey(ctx, user)
	if err != nil {
		printlnFn("Error:", err)
		return err
	}
	printlnFn(fmt.Sprintf("%s key:\n%s", user, key))
	return nil
}

func printNames(title string, names []string) {
	if len(names) == 0 {
		printlnFn(title + ": (none)")
		return
	}
	printlnFn(title + ":")
	for _, n := range names {
		printlnFn("  " + n)
	}
}
