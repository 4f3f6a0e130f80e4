package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/viper"
)

func jsonOutput() bool {
	return viper.GetBool("json")
}

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
