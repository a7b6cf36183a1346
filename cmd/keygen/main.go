package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/jornet-server/internal/captoken"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

func main() {
	asYAML := flag.Bool("yaml", false, "Print an auth section for config.yaml")
	out := flag.StringP("out", "o", "", "Write the key to this file instead of stdout")
	showPublic := flag.Bool("public", false, "Also print the public key to stderr")
	flag.Parse()

	public, private, err := captoken.GenerateKeypair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
	encoded := captoken.EncodePrivateKey(private)

	output := encoded + "\n"
	if *asYAML {
		data, err := yaml.Marshal(map[string]map[string]string{
			"auth": {"private_key": encoded},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "keygen: encoding yaml: %v\n", err)
			os.Exit(1)
		}
		output = string(data)
	}

	if *out != "" {
		if err := os.WriteFile(*out, []byte(output), 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Print(output)
	}

	if *showPublic {
		fmt.Fprintf(os.Stderr, "public key: %s\n", base64.StdEncoding.EncodeToString(public))
	}
}
