package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/yagodka-im/yagodka-go/internal/daemon"
	"github.com/yagodka-im/yagodka-go/internal/session"
)

func main() {
	userFlag := flag.String("user", "", "user id (overrides config default_user)")
	flag.Parse()

	userID := session.Resolve(*userFlag)
	if userID == "" {
		fmt.Fprintln(os.Stderr, "error: no user id; pass --user or set default_user in config.toml")
		os.Exit(1)
	}
	if err := session.ValidateUserID(userID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{UserID: userID}),
	)

	app.Run()
}
