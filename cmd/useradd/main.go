// Command useradd registers an account directly in the user store. The
// server has no in-band registration, so operators run this against the
// same database the server uses.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/vkuskov/meeseng/internal/cryptox"
	"github.com/vkuskov/meeseng/internal/server/users"
	"github.com/vkuskov/meeseng/internal/shared"
)

func main() {

	driver := flag.String("s", "sqlite", "user store driver")
	dsn := flag.String("d", "users.db", "database DSN")
	username := flag.String("n", "", "account name to create")
	flag.Parse()

	if *username == "" {
		log.Fatal("account name is required (-n)")
	}

	password, err := promptPassword()
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer shared.WipeByteArray(password)

	ctx := context.Background()

	store, err := users.Open(ctx, *driver, *dsn)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	defer store.Close()

	hash := cryptox.DerivePasswordHash(password, *username)
	defer shared.WipeByteArray(hash)

	if err := store.CreateUser(ctx, *username, hash); err != nil {
		if errors.Is(err, shared.ErrorAlreadyExists) {
			log.Fatalf("user %q already exists", *username)
		}
		log.Fatalf("create user: %v", err)
	}

	fmt.Printf("User %q created.\n", *username)
}

func promptPassword() ([]byte, error) {
	fmt.Print("Enter password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, errors.New("empty password")
	}

	fmt.Print("Repeat password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, err
	}
	defer shared.WipeByteArray(second)

	if !bytes.Equal(first, second) {
		return nil, errors.New("passwords do not match")
	}
	return first, nil
}
