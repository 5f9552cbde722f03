package main

import (
	"fmt"
	"os"

	"operator/internal/crypto"
)

// Prints the node_id (address) controlled by a signer key.
func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <private_key_hex>\n", os.Args[0])
		os.Exit(1)
	}

	signer, err := crypto.NewRequestSignerFromHex(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing private key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(signer.Address().Hex())
}
