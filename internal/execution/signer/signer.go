package signer

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
)

type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

// Options selects where the wallet key comes from.
type Options struct {
	// PrivateKey is the PRIVATE_KEY runtime setting, with or without 0x.
	PrivateKey string
	// KeySource restricts local key discovery (auto|env|file|keystore).
	KeySource string
	// TEEMode other than "off" derives the key from SecretSalt and AgentID.
	TEEMode    string
	SecretSalt string
	AgentID    string
}

// New builds the wallet signer for a session.
func New(opts Options) (Signer, error) {
	mode, err := ParseTEEMode(opts.TEEMode)
	if err != nil {
		return nil, err
	}
	if mode != TEEModeOff {
		s, err := NewTEESigner(mode, opts.SecretSalt, opts.AgentID)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, "derive tee wallet key", err)
		}
		return s, nil
	}
	s, err := NewLocalSignerFromInputs(opts.KeySource, strings.TrimSpace(opts.PrivateKey))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load wallet key", err)
	}
	return s, nil
}
