// Package walletauth builds and verifies the login challenge a wallet signs
// with EIP-191 personal_sign.
package walletauth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const messageHeader = "unlockd login"

var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrSignerMismatch     = errors.New("signature does not match address")
)

// Message returns the exact text a wallet signs to log in as addr.
func Message(addr common.Address, timestamp int64) string {
	return messageHeader + "\naddress: " + addr.Hex() + "\ntimestamp: " + strconv.FormatInt(timestamp, 10)
}

// Sign produces a personal_sign signature (V in {27, 28}) over message.
func Sign(key *ecdsa.PrivateKey, message string) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return nil, fmt.Errorf("sign login message: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address that produced sig over message. Both the
// {0, 1} and {27, 28} recovery id conventions are accepted.
func Recover(message string, sig []byte) (common.Address, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, ErrMalformedSignature
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if v := normalized[ethcrypto.RecoveryIDOffset]; v >= 27 {
		normalized[ethcrypto.RecoveryIDOffset] = v - 27
	}
	if normalized[ethcrypto.RecoveryIDOffset] > 1 {
		return common.Address{}, ErrMalformedSignature
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(message)), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sigHex is addr's signature over the login message for
// timestamp.
func Verify(addr common.Address, timestamp int64, sigHex string) error {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	signer, err := Recover(Message(addr, timestamp), sig)
	if err != nil {
		return err
	}
	if signer != addr {
		return ErrSignerMismatch
	}
	return nil
}

// LoadKey parses a hex private key, with or without 0x prefix.
func LoadKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("empty private key")
	}
	key, err := ethcrypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return key, nil
}
