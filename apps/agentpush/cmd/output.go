package cmd

import (
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlOut prints data as a YAML document to stdout.
func yamlOut(data any) {
	yamlTo(os.Stdout, data)
}

func yamlTo(w io.Writer, data any) {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	enc.Encode(data)
	enc.Close()
}
