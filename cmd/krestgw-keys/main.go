// Package main implements krestgw-keys, a small CLI for managing the
// gateway's credential file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
)

const usage = `krestgw-keys manages the gateway credential file.

Usage:
  krestgw-keys [-file PATH] add -key KEY -role ROLE [-secret SECRET]
  krestgw-keys [-file PATH] revoke -key KEY
  krestgw-keys [-file PATH] list
  krestgw-keys [-file PATH] verify -key KEY [-secret SECRET]

Roles: admin, producer, consumer, readonly

When -secret is omitted it is read from the terminal without echo.
`

func main() {
	file := flag.String("file",
		envOrDefault("KRESTGW_CREDENTIALS_FILE", "configs/credentials"),
		"Path to the credential file")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "add":
		err = cmdAdd(*file, flag.Args()[1:])
	case "revoke":
		err = cmdRevoke(*file, flag.Args()[1:])
	case "list":
		err = cmdList(*file)
	case "verify":
		err = cmdVerify(*file, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func cmdAdd(file string, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	key := fs.String("key", "", "Credential key")
	role := fs.String("role", "", "Credential role")
	secret := fs.String("secret", "", "Secret (prompted when omitted)")
	cost := fs.Int("cost", basic.DefaultBcryptCost, "bcrypt cost")
	_ = fs.Parse(args)

	if *key == "" || *role == "" {
		return fmt.Errorf("add requires -key and -role")
	}

	parsedRole, err := basic.ParseRole(*role)
	if err != nil {
		return err
	}

	plain, err := readSecret(*secret, "Secret: ")
	if err != nil {
		return err
	}

	hash, err := basic.HashSecretWithCost(plain, *cost)
	if err != nil {
		return err
	}

	store, err := basic.NewFileStore(file)
	if err != nil {
		return err
	}

	err = store.AddOrUpdate(context.Background(), &basic.Credential{
		Key:        *key,
		SecretHash: hash,
		Role:       parsedRole,
		Enabled:    true,
	})
	if err != nil {
		return err
	}

	fmt.Printf("added %s (%s) to %s\n", *key, parsedRole, file)
	return nil
}

func cmdRevoke(file string, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	key := fs.String("key", "", "Credential key")
	_ = fs.Parse(args)

	if *key == "" {
		return fmt.Errorf("revoke requires -key")
	}

	store, err := basic.NewFileStore(file)
	if err != nil {
		return err
	}

	if err := store.Revoke(context.Background(), *key); err != nil {
		return err
	}

	fmt.Printf("revoked %s\n", *key)
	return nil
}

func cmdList(file string) error {
	store, err := basic.NewFileStore(file)
	if err != nil {
		return err
	}

	creds, err := store.List(context.Background())
	if err != nil {
		return err
	}

	sort.Slice(creds, func(i, j int) bool {
		return creds[i].Key < creds[j].Key
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tROLE\tSTATUS")
	for _, cred := range creds {
		status := "enabled"
		if !cred.Enabled {
			status = "revoked"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", cred.Key, cred.Role, status)
	}
	return w.Flush()
}

func cmdVerify(file string, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	key := fs.String("key", "", "Credential key")
	secret := fs.String("secret", "", "Secret (prompted when omitted)")
	_ = fs.Parse(args)

	if *key == "" {
		return fmt.Errorf("verify requires -key")
	}

	plain, err := readSecret(*secret, "Secret: ")
	if err != nil {
		return err
	}

	store, err := basic.NewFileStore(file)
	if err != nil {
		return err
	}

	cred, err := store.Verify(context.Background(), *key, plain)
	if err != nil {
		return err
	}

	fmt.Printf("ok: %s has role %s\n", cred.Key, cred.Role)
	return nil
}

// readSecret returns the provided secret or prompts for one without
// echoing when the input is a terminal.
func readSecret(provided, prompt string) (string, error) {
	if provided != "" {
		return provided, nil
	}

	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())

	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	var s string
	if _, err := fmt.Fscanln(os.Stdin, &s); err != nil {
		return "", err
	}
	return s, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
