package config

import (
	"os"
	"strings"
)

// Solana RPC endpoint the hash oracle talks to. Defaults to devnet, same as
// the on-chain program deployment.
//
// Set via env:
// - SOLANA_RPC_URL=https://api.devnet.solana.com
// - SOLANA_COMMITMENT=confirmed
func SolanaRPCURL() string {
	if v := strings.TrimSpace(os.Getenv("SOLANA_RPC_URL")); v != "" {
		return v
	}
	return "https://api.devnet.solana.com"
}

func SolanaCommitment() string {
	if v := strings.TrimSpace(os.Getenv("SOLANA_COMMITMENT")); v != "" {
		return v
	}
	return "confirmed"
}
