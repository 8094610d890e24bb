package main

import (
	"context"
	"fmt"
	"os"
)

func cmdScores(args []string) {
	_, store := openStoreForCLI()
	defer store.Close()

	scores, err := store.GetAllScores(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read scores: %v\n", err)
		os.Exit(1)
	}
	if len(scores) == 0 {
		fmt.Println("No scores recorded")
		return
	}

	for _, s := range scores {
		fmt.Printf("%s W:%d L:%d D:%d\n", s.Username, s.Wins, s.Losses, s.Draws)
	}
}
