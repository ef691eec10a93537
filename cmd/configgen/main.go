package main

import (
	"flag"
	"log"

	"github.com/danmuck/warden/internal/config"
)

func main() {
	kind := flag.String("kind", "agent", "config kind: agent|prompt")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			switch *kind {
			case "agent":
				path = "cmd/wardenctl/config.toml"
			case "prompt":
				path = "cmd/promptctl/config.toml"
			default:
				log.Fatalf("unknown kind: %s", *kind)
			}
		}

		switch *kind {
		case "agent":
			if _, err := config.LoadAgentConfig(path); err != nil {
				log.Fatal(err)
			}
		case "prompt":
			if _, err := config.LoadPromptClientConfig(path); err != nil {
				log.Fatal(err)
			}
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "agent":
			target = "cmd/wardenctl/config.toml"
		case "prompt":
			target = "cmd/promptctl/config.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
