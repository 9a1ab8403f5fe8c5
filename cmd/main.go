package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vmngo/livequiz/internal/config"
	"github.com/vmngo/livequiz/internal/server"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
}

// loadConfig builds the config from defaults, the optional CONFIG_PATH file
// and environment variables.
func loadConfig() (server.Config, error) {
	c := defaultConfig()

	if err := config.Load(os.Getenv("CONFIG_PATH"), &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}

func defaultConfig() server.Config {
	var c server.Config

	c.HTTP.Port = 8080

	c.Redis.Session.Addrs = []string{"localhost:6379"}
	c.Redis.Session.Prefix = "livequiz"
	c.Redis.Pubsub.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Prefix = "livequiz"
	c.Redis.Auth.Addrs = []string{"localhost:6379"}
	c.Redis.Auth.Prefix = "auth"

	c.Postgres.Quiz.Addr = "localhost:5432"
	c.Postgres.Quiz.Name = "quiz"

	return c
}
