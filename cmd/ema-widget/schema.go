package main

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/urfave/cli/v2"

	"github.com/koscakluka/ema-widget/core/frames"
)

func SchemaCommand() *cli.Command {
	return &cli.Command{
		Name:   "schema",
		Usage:  "Print the JSON schema of a line frame",
		Action: runSchema,
	}
}

func runSchema(c *cli.Context) error {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(&frames.LineRecord{})

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render schema: %w", err)
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}
