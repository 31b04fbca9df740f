package signer

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

type TEEMode string

const (
	TEEModeOff        TEEMode = "off"
	TEEModeLocal      TEEMode = "local"
	TEEModeDocker     TEEMode = "docker"
	TEEModeProduction TEEMode = "production"
)

const teeKeyInfo = "polygon-agent/wallet/v1"

// Derivation attempts before giving up on producing a valid secp256k1 scalar.
const maxDeriveAttempts = 16

func ParseTEEMode(raw string) (TEEMode, error) {
	switch TEEMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TEEModeOff:
		return TEEModeOff, nil
	case TEEModeLocal:
		return TEEModeLocal, nil
	case TEEModeDocker:
		return TEEModeDocker, nil
	case TEEModeProduction:
		return TEEModeProduction, nil
	default:
		return "", fmt.Errorf("unsupported TEE_MODE %q (expected off|local|docker|production)", raw)
	}
}

// TEESigner holds a key derived from the wallet secret salt. The same salt and
// agent id always yield the same address.
type TEESigner struct {
	*LocalSigner
	Mode TEEMode
}

func NewTEESigner(mode TEEMode, salt, agentID string) (*TEESigner, error) {
	if mode == TEEModeOff {
		return nil, fmt.Errorf("tee mode is off")
	}
	pk, err := DeriveKey(salt, agentID)
	if err != nil {
		return nil, err
	}
	return &TEESigner{LocalSigner: signerFromKey(pk), Mode: mode}, nil
}

// DeriveKey expands WALLET_SECRET_SALT with HKDF-SHA256, using the agent id as
// HKDF salt. Candidates outside the curve order are skipped.
func DeriveKey(secretSalt, agentID string) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(secretSalt) == "" {
		return nil, fmt.Errorf("WALLET_SECRET_SALT is required when TEE_MODE is enabled")
	}
	reader := hkdf.New(sha256.New, []byte(secretSalt), []byte(agentID), []byte(teeKeyInfo))
	buf := make([]byte, 32)
	for i := 0; i < maxDeriveAttempts; i++ {
		if _, err := io.ReadFull(reader, buf); err != nil {
			return nil, fmt.Errorf("expand wallet key: %w", err)
		}
		if pk, err := crypto.ToECDSA(buf); err == nil {
			return pk, nil
		}
	}
	return nil, fmt.Errorf("could not derive a valid wallet key")
}
