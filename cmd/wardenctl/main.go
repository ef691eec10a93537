package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/warden/internal/warden"
)

func main() {
	configPath := flag.String("config", "", "path to wardenctl config.toml")
	flag.Parse()

	cfg := warden.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wardenctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := warden.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "wardenctl: %v\n", err)
		os.Exit(1)
	}
}
