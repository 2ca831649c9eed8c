package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/prohands/chatsync/internal/config"
	"github.com/prohands/chatsync/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "login":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatsyncctl login <token>")
			os.Exit(1)
		}
		cmdLogin(sessionName, args[1])
	case "whoami":
		cmdWhoami(sessionName)
	case "sessions":
		if len(args) >= 3 && args[1] == "set-default" {
			cmdSetDefault(args[2])
		} else {
			fmt.Fprintln(os.Stderr, "usage: chatsyncctl sessions set-default <name>")
			os.Exit(1)
		}
	case "paths":
		cmdPaths(sessionName)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--session <name>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <token>                Store the auth token for a session")
	fmt.Fprintln(os.Stderr, "  whoami                       Show the signed-in user id")
	fmt.Fprintln(os.Stderr, "  sessions set-default <name>  Set the default session")
	fmt.Fprintln(os.Stderr, "  paths                        Show session file locations")
}

func cmdLogin(sessionName, token string) {
	userID, err := session.UserIDFromToken(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := session.SaveToken(sessionName, token); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signed in as %s (session %q)\n", userID, sessionName)
}

func cmdWhoami(sessionName string) {
	token, err := session.LoadToken(sessionName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: not signed in for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	userID, err := session.UserIDFromToken(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(userID)
}

func cmdSetDefault(name string) {
	if err := session.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		cfg = config.Default()
	}
	cfg.DefaultSession = name
	if err := config.Save(session.ConfigPath(), cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Default session set to %q\n", name)
}

func cmdPaths(sessionName string) {
	fmt.Printf("db:     %s\n", session.DBPath(sessionName))
	fmt.Printf("token:  %s\n", session.TokenPath(sessionName))
	fmt.Printf("log:    %s\n", session.LogPath(sessionName))
	fmt.Printf("lock:   %s\n", session.LockPath(sessionName))
	fmt.Printf("config: %s\n", session.ConfigPath())
}
