package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/matheus3301/lensdm/internal/daemon"
	"github.com/matheus3301/lensdm/internal/inbox"
	"github.com/matheus3301/lensdm/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.lensdm/config.toml)")
	profileFlag := flag.String("profile", "", "signed-in profile id (overrides [account])")
	addressFlag := flag.String("address", "", "wallet address of the signed-in profile")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *addressFlag != "" && *profileFlag == "" {
		fmt.Fprintln(os.Stderr, "error: --address requires --profile")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			ConfigPath:  *configFlag,
			Account: inbox.Account{
				ProfileID: *profileFlag,
				Address:   strings.ToLower(*addressFlag),
			},
		}),
	)

	app.Run()
}
