package depositmonitor

import "github.com/gagliardetto/solana-go"

func parseSignature(s string) (solana.Signature, error) {
	return solana.SignatureFromBase58(s)
}

func parsePublicKey(s string) (solana.PublicKey, error) {
	return solana.PublicKeyFromBase58(s)
}
