package factory

import (
	"Go2NetFlow/internal/config"
	"Go2NetFlow/internal/model"
	"fmt"
	"log"
)

// WriterFactory defines a function that creates a writer from its config definition.
type WriterFactory func(def config.WriterDef) (model.Writer, error)

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// Create builds every enabled writer of the config. A writer that fails to initialize is
// logged and skipped; an unknown writer type is an error.
func Create(cfg *config.Config) ([]model.Writer, error) {
	var writers []model.Writer

	for _, def := range cfg.Writers {
		if !def.Enabled {
			continue
		}
		factory, ok := registry[def.Type]
		if !ok {
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}

		writer, err := factory(def)
		if err != nil {
			log.Printf("Warning: failed to create writer type '%s': %v, skipping.", def.Type, err)
			continue
		}
		log.Printf("Created writer '%s'", writer.Name())
		writers = append(writers, writer)
	}

	return writers, nil
}
