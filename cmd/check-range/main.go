package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"operator/internal/blockchain"
)

// Prints the VRF range assigned to an address and, optionally, whether a
// given request would be admitted by that node.
func main() {
	rpcURL := flag.String("rpc", envOrDefault("CHAIN_RPC_URL", ""), "RPC URL for the blockchain node")
	contract := flag.String("contract", envOrDefault("VRF_RANGE_CONTRACT", ""), "VRF range contract address")
	address := flag.String("address", "", "Node address to check (0x...)")
	precision := flag.Uint("precision", 4, "vrf_sort_precision used by the node")
	requestID := flag.String("request-id", "", "Optional request id to place in the range")
	promptHash := flag.String("prompt-hash", "", "Optional prompt hash hex (takes precedence over request id)")
	flag.Parse()

	if *rpcURL == "" {
		log.Fatal("RPC URL is required (set CHAIN_RPC_URL or use --rpc)")
	}
	if !common.IsHexAddress(*address) {
		log.Fatalf("Invalid node address: %s", *address)
	}

	oracle, err := blockchain.NewVRFRangeContract(*rpcURL, *contract)
	if err != nil {
		log.Fatalf("failed to bind range contract: %v", err)
	}

	cfg := blockchain.DefaultAdmissionConfig()
	cfg.SortPrecision = uint16(*precision)
	checker, err := blockchain.NewAdmissionChecker(oracle, cfg, nil)
	if err != nil {
		log.Fatalf("failed to create admission checker: %v", err)
	}
	defer checker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	addr := common.HexToAddress(strings.TrimSpace(*address))
	if *requestID == "" && *promptHash == "" {
		assignment, err := checker.CheckAdmission(ctx, addr)
		if err != nil {
			log.Fatalf("range query failed: %v", err)
		}
		fmt.Printf("%s range [%s, %s)\n", addr.Hex(), assignment.Lower, assignment.Upper)
		return
	}

	var hash []byte
	if *promptHash != "" {
		hash, err = hex.DecodeString(strings.TrimPrefix(*promptHash, "0x"))
		if err != nil {
			log.Fatalf("invalid prompt hash: %v", err)
		}
	}
	decision, err := checker.Decide(ctx, addr, *requestID, hash)
	switch {
	case err == nil:
		fmt.Printf("ADMITTED position %s in [%s, %s)\n", decision.Position, decision.Assignment.Lower, decision.Assignment.Upper)
	case errors.Is(err, blockchain.ErrNotInRange):
		fmt.Printf("NOT IN RANGE position %s outside [%s, %s)\n", decision.Position, decision.Assignment.Lower, decision.Assignment.Upper)
	default:
		log.Fatalf("admission check failed: %v", err)
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
