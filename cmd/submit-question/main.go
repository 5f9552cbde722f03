package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"operator/internal/crypto"
)

// Submits one signed question to an operator and prints the response envelope.
func main() {
	var (
		operatorURL = flag.String("operator", envOr("OPERATOR_URL", "http://127.0.0.1:8080"), "Operator REST base URL")
		privateKey  = flag.String("key", envOr("PRIVATE_KEY", ""), "Requester private key hex (empty submits unsigned)")
		prompt      = flag.String("prompt", envOr("PROMPT", "hello"), "Prompt text; its keccak256 is sent as prompt_hash")
		requestID   = flag.String("request-id", "", "Request id (random when empty)")
		timeout     = flag.Duration("timeout", 30*time.Second, "Request timeout")
	)
	flag.Parse()

	id := *requestID
	if id == "" {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			log.Fatalf("Failed to generate request id: %v", err)
		}
		id = hex.EncodeToString(b)
	}

	payload := map[string]string{"request_id": id}
	if *privateKey != "" {
		signer, err := crypto.NewRequestSignerFromHex(*privateKey)
		if err != nil {
			log.Fatalf("Invalid private key: %v", err)
		}
		hash, sig, err := signer.SignPrompt([]byte(*prompt))
		if err != nil {
			log.Fatalf("Failed to sign prompt: %v", err)
		}
		payload["prompt_hash"] = "0x" + hex.EncodeToString(hash)
		payload["signature"] = "0x" + hex.EncodeToString(sig)
		payload["requester_address"] = signer.Address().Hex()
		log.Printf("Requester: %s", signer.Address().Hex())
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("Failed to encode request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	url := strings.TrimRight(*operatorURL, "/") + "/api/v1/question"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Failed to submit question: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	log.Printf("Request %s -> HTTP %d", id, resp.StatusCode)
	fmt.Println(string(body))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
