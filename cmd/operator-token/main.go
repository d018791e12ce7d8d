package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"signage/internal/config"
	"signage/internal/middleware"
)

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		log.Fatalf("usage: %s <operator> [ttl]", os.Args[0])
	}

	ttl := 24 * time.Hour
	if len(os.Args) == 3 {
		d, err := time.ParseDuration(os.Args[2])
		if err != nil {
			log.Fatalf("invalid ttl: %v", err)
		}
		ttl = d
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	token, err := middleware.IssueOperatorToken(cfg.Auth.OperatorSecret, os.Args[1], ttl)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}

	fmt.Println(token)
}
