// boardwatch tails a story card board from the terminal. It loads the
// board once, then polls the change marker and logs every refresh.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	"storyboard/client"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	baseURL := os.Getenv("BOARD_URL")
	if baseURL == "" {
		log.Fatal("missing BOARD_URL")
	}

	logger := log.New()
	api := client.NewClient(baseURL, nil, logger)
	session := client.NewSession(api, &client.LogRenderer{Logger: logger}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Init(ctx); err != nil {
		log.Fatalf("board init: %v", err)
	}
	logger.WithFields(log.Fields{
		"cards":    session.Store().Len(),
		"products": session.Products(),
		"interval": session.RefreshInterval(),
	}).Info("board loaded")

	if user, pass := os.Getenv("BOARD_USER"), os.Getenv("BOARD_PASSWORD"); user != "" && pass != "" {
		if err := session.Login(ctx, user, pass); err != nil {
			log.Fatalf("login: %v", err)
		}
		logger.WithField("user", user).Info("authenticated")
	}

	poller := client.NewPoller(session, logger)
	poller.Run(ctx)
}
