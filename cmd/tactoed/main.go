// tactoed - multi-client TCP chat server with an embedded Tic-Tac-Toe match
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "scores":
		cmdScores(os.Args[2:])
	case "init-config":
		cmdInitConfig(os.Args[2:])
	case "version":
		fmt.Printf("tactoed %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: tactoed <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                       run the chat+game server")
	fmt.Println("  user add [--admin] <name>   create a user, prompting for a password")
	fmt.Println("  user remove <name>          delete a user")
	fmt.Println("  user list                   list all users")
	fmt.Println("  user reset <name>           reset a user's password")
	fmt.Println("  user admin <name>           toggle the persisted moderator seed")
	fmt.Println("  scores                      print the leaderboard")
	fmt.Println("  init-config [path]          write a default config.yml")
	fmt.Println("  version                     print the version")
}
