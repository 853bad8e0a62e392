// Command devicectl registers a device for a user and prints its
// credential. Connection settings come from the server config; -user and
// -device select the device.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/flagx"
	"github.com/dmitrijs2005/chatrelay/internal/server"
	"github.com/dmitrijs2005/chatrelay/internal/server/config"
	"github.com/google/uuid"
)

func main() {

	cfg := config.LoadConfig()

	fs := flag.NewFlagSet("devicectl", flag.ExitOnError)
	userID := fs.String("user", "", "owner user id")
	deviceID := fs.String("device", "", "device id (generated when empty)")
	_ = fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-user", "-device"}))

	if *userID == "" {
		log.Fatal("-user is required")
	}
	if *deviceID == "" {
		*deviceID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token, err := server.ProvisionDevice(ctx, cfg, *userID, *deviceID)
	if err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Printf("device: %s\ntoken: %s\n", *deviceID, token)
}
