package main

import (
	"encoding/gob"
	"fmt"
	"log"
	"os"

	"Go2NetFlow/internal/engine/impl/flow"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go <shard_file.dat>")
		os.Exit(1)
	}
	gobFile := os.Args[1]

	file, err := os.Open(gobFile)
	if err != nil {
		log.Fatalf("Unable to open file: %v", err)
	}
	defer file.Close()

	var reports []flow.Report
	if err := gob.NewDecoder(file).Decode(&reports); err != nil {
		log.Fatalf("Failed to decode gob data: %v", err)
	}

	fmt.Printf("Decoded %d flows:\n", len(reports))
	for _, r := range reports {
		fmt.Printf("%s sni=%q bidirectional=%t fwd=%d/%dB bwd=%d/%dB first=%s last=%s\n",
			r.Key, r.SNI, r.Bidirectional, r.ForwardPackets, r.ForwardBytes,
			r.BackwardPackets, r.BackwardBytes, r.FirstSeen, r.LastSeen)
	}
}
