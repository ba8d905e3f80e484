package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"PoE-Chain/sdk/go/poe"
)

func main() {
	baseURL := os.Getenv("POE_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	client, err := poe.NewClient(baseURL, nil, poe.WithKey(key))
	if err != nil {
		log.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	proof := crypto.Keccak256([]byte("example document"))
	claim, err := client.CreateClaim(ctx, proof)
	if err != nil {
		log.Fatalf("create claim: %v", err)
	}
	fmt.Printf("claimed %s at height %d as %s\n", claim.Proof, claim.RegisteredAt, claim.Owner)

	tx, err := client.SubmitTransaction(ctx, poe.Submission{Call: "revoke_claim", Proof: claim.Proof})
	if err != nil {
		log.Fatalf("submit revoke: %v", err)
	}
	receipt, err := client.WaitTransaction(ctx, tx.ID, 100*time.Millisecond)
	if err != nil {
		log.Fatalf("wait revoke: %v", err)
	}
	fmt.Printf("revoke %s: %s\n", receipt.ID, receipt.Status)
}
