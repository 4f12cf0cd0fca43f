package main

import (
	"fmt"
	"io"

	"github.com/haasonsaas/agentrun/internal/config"
)

func runConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func runConfigValidate(path string, out io.Writer) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "config ok: provider=%s model=%s storage=%s\n", cfg.LLM.Provider, cfg.LLM.Model, cfg.Storage.Driver)
	return nil
}
