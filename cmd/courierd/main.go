package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"courier/internal/daemon"
	"courier/internal/profiles"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	relayFlag := flag.String("relay", "", "relay websocket URL (overrides config)")
	flag.Parse()

	profileName := profiles.Resolve(*profileFlag)
	if err := profiles.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName, RelayURL: *relayFlag}),
	)

	app.Run()
}
