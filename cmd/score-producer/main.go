package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/integrity"
	"github.com/jornet-server/internal/kafka"
	flag "github.com/spf13/pflag"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "jornet-scores", "Kafka topic")
	leaderboardID := flag.String("leaderboard", "", "Leaderboard ID")
	leaderboardKey := flag.String("leaderboard-key", "", "Leaderboard key")
	playerID := flag.String("player", "", "Player ID")
	playerKey := flag.String("player-key", "", "Player key")
	meta := flag.String("meta", "", "Optional meta string attached to every score")
	rate := flag.Int("rate", 10, "Submissions per second")
	count := flag.Int("count", 0, "Number of submissions to send (0 = until interrupted)")
	printOnly := flag.Bool("print", false, "Print one signed message as JSON and exit")
	flag.Parse()

	lbID := mustUUID("leaderboard", *leaderboardID)
	lbKey := mustUUID("leaderboard-key", *leaderboardKey)
	pID := mustUUID("player", *playerID)
	pKey := mustUUID("player-key", *playerKey)

	var metaPtr *string
	if *meta != "" {
		metaPtr = meta
	}

	// Distinct timestamps keep consecutive messages from colliding as
	// duplicates when the rate exceeds one per second.
	next := time.Now().Unix()
	sign := func() kafka.ScoreMessage {
		sub := integrity.Submission{
			Score:     float32(rand.Intn(5000)) + rand.Float32(),
			Player:    pID,
			Meta:      metaPtr,
			Timestamp: next,
		}
		next++
		sub.Sign(pKey, lbKey)
		return kafka.ScoreMessage{Leaderboard: lbID, Submission: sub}
	}

	if *printOnly {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sign()); err != nil {
			log.Fatalf("encoding message: %v", err)
		}
		return
	}

	if *rate <= 0 {
		log.Fatalf("--rate must be positive")
	}

	producer, err := kafka.NewProducer(strings.Split(*brokers, ","), *topic)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	fmt.Printf("Publishing to %s on %s (%d/sec)\n", *topic, *brokers, *rate)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var sent, failed int
	for *count == 0 || sent+failed < *count {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			fmt.Printf("Sent: %d, Errors: %d\n", sent, failed)
			return

		case <-ticker.C:
			if err := producer.Publish(sign()); err != nil {
				failed++
				log.Printf("Producer error: %v", err)
				continue
			}
			sent++

		case <-statsTicker.C:
			fmt.Printf("[%s] Sent: %d | Errors: %d\n", time.Now().Format("15:04:05"), sent, failed)
		}
	}
	fmt.Printf("Completed. Sent: %d, Errors: %d\n", sent, failed)
}

func mustUUID(flagName, value string) uuid.UUID {
	id, err := uuid.Parse(value)
	if err != nil {
		log.Fatalf("--%s must be a uuid: %v", flagName, err)
	}
	return id
}
