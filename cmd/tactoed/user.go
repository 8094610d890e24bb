package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/tactoed/tactoed/internal/config"
	"github.com/tactoed/tactoed/internal/storage"
)

func openStoreForCLI() (*config.Config, *storage.Store) {
	cfgPath := "./config.yml"
	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err == nil {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", cfgPath, err)
			cfg = config.Default()
		} else {
			cfg = loaded
		}
	} else {
		cfg = config.Default()
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	return cfg, store
}

func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: user subcommand required: add, remove, list, reset, admin")
		os.Exit(1)
	}

	subCmd := args[0]
	cfg, store := openStoreForCLI()
	defer store.Close()

	ctx := context.Background()

	var err error
	switch subCmd {
	case "add":
		err = cmdUserAdd(ctx, store, cfg, args[1:])
	case "remove":
		err = cmdUserRemove(ctx, store, args[1:])
	case "list":
		err = cmdUserList(ctx, store)
	case "reset":
		err = cmdUserReset(ctx, store, cfg, args[1:])
	case "admin":
		err = cmdUserAdmin(ctx, store, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown user command: %s (use: add, remove, list, reset, admin)\n", subCmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdUserAdd(ctx context.Context, store *storage.Store, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("user add", flag.ExitOnError)
	isAdmin := fs.Bool("admin", false, "seed the account as a moderator")
	fs.Parse(args)

	remaining := fs.Args()
	if len(remaining) < 1 {
		return fmt.Errorf("usage: tactoed user add [--admin] <username>")
	}
	username := remaining[0]

	if ok, reason := storage.ValidateUsername(username); !ok {
		return errors.New(reason)
	}

	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	if err := store.TryRegister(ctx, username, string(password), cfg.Auth.BcryptCost); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	if *isAdmin {
		if err := store.SetModeratorSeed(ctx, username, true); err != nil {
			return fmt.Errorf("seeding moderator flag: %w", err)
		}
	}

	role := "user"
	if *isAdmin {
		role = "moderator"
	}
	fmt.Printf("User '%s' created successfully (%s)\n", username, role)
	return nil
}

func cmdUserRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: tactoed user remove <username>")
	}
	if err := store.RemoveUser(ctx, args[0]); err != nil {
		return fmt.Errorf("removing user: %w", err)
	}
	fmt.Printf("User '%s' removed\n", args[0])
	return nil
}

func cmdUserList(ctx context.Context, store *storage.Store) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	if len(users) == 0 {
		fmt.Println("No users registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tMODERATOR\tWINS\tLOSSES\tDRAWS")
	fmt.Fprintln(w, "--------\t---------\t----\t------\t-----")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%d\n", u.Username, u.IsModerator, u.Wins, u.Losses, u.Draws)
	}
	return w.Flush()
}

func cmdUserReset(ctx context.Context, store *storage.Store, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: tactoed user reset <username>")
	}
	username := args[0]
	if _, err := store.GetUser(ctx, username); err != nil {
		return fmt.Errorf("user not found: %s", username)
	}

	fmt.Print("Enter new password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	if err := store.SetPassword(ctx, username, string(password), cfg.Auth.BcryptCost); err != nil {
		return fmt.Errorf("resetting password: %w", err)
	}
	fmt.Printf("Password reset for '%s'\n", username)
	return nil
}

func cmdUserAdmin(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: tactoed user admin <username>")
	}
	username := args[0]
	current, err := store.IsModerator(ctx, username)
	if err != nil {
		return fmt.Errorf("user not found: %s", username)
	}
	if err := store.SetModeratorSeed(ctx, username, !current); err != nil {
		return fmt.Errorf("updating moderator seed: %w", err)
	}
	fmt.Printf("Moderator seed for '%s' set to %v\n", username, !current)
	return nil
}
