// Command vapidkeys prints a new VAPID key pair as environment assignments
// for the registrar's vapid provider.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tinywideclouds/go-push-registrar/internal/platform/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", "go-push-registrar")

	pair, err := web.GenerateKeyPair()
	if err != nil {
		logger.Error("Failed to generate VAPID key pair", "err", err)
		os.Exit(1)
	}
	fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pair.PublicKey, pair.PrivateKey)
}
