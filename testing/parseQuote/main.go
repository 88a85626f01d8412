// parseQuote prints a binary quote as JSON.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/edgelesssys/go-dcap-qvl/verification/types"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <quote>\n", os.Args[0])
		os.Exit(2)
	}
	if err := parseBlob(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseBlob(path string) error {
	rawQuote, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	parsedQuote, err := types.ParseQuote(rawQuote)
	if err != nil {
		return err
	}

	prettyPrint, err := json.MarshalIndent(parsedQuote, "", " ")
	if err != nil {
		return err
	}

	fmt.Println(string(prettyPrint))

	return nil
}
