package main

import (
	"flag"
	"log"

	"github.com/danmuck/adsbridge/internal/config"
)

func main() {
	kind := flag.String("kind", "bridge", "config kind: bridge|replay")
	output := flag.String("output", "adsbridge.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "adsbridge.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		settings, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		if err := settings.Bridge.WithDefaults().Validate(); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s (backend=%s)", *input, settings.Bridge.Backend)
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
