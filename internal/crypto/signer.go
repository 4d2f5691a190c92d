package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// authorizationPrefix is the fixed first line of the wallet authorization
// challenge. The identity follows on the next line.
const authorizationPrefix = "AgentMint wallet authorization"

// Signer signs personal messages with the local bidder's wallet key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the checksummed address derived from the private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Identity returns the normalised bidder identity for this wallet.
func (s *Signer) Identity() string {
	return NormalizeIdentity(s.address.Hex())
}

// SignMessage produces an Ethereum personal-sign signature over msg,
// hex-encoded with a 0x prefix and v in {27,28}.
func (s *Signer) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(personalHash(msg), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SignAuthorization signs the authorization challenge for this wallet.
func (s *Signer) SignAuthorization() (string, error) {
	return s.SignMessage([]byte(AuthorizationMessage(s.Identity())))
}

// RecoverAddress returns the address that produced sigHex over msg.
func RecoverAddress(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is not hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(personalHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// AuthorizationMessage is the challenge an identity signs to authorize its
// wallet for settlement.
func AuthorizationMessage(identity string) string {
	return authorizationPrefix + "\nidentity: " + NormalizeIdentity(identity)
}

// NormalizeIdentity lower-cases hex wallet addresses so that checksummed and
// plain forms compare equal. Other identities are only trimmed.
func NormalizeIdentity(id string) string {
	id = strings.TrimSpace(id)
	if common.IsHexAddress(id) {
		return strings.ToLower(common.HexToAddress(id).Hex())
	}
	return id
}

// SameIdentity reports whether a and b name the same bidder.
func SameIdentity(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return NormalizeIdentity(a) == NormalizeIdentity(b)
}

// Keccak256Hex hashes data and returns the 0x-prefixed hex digest.
func Keccak256Hex(data []byte) string {
	return "0x" + hex.EncodeToString(ethcrypto.Keccak256(data))
}

// personalHash computes
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg)
func personalHash(msg []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))
	return ethcrypto.Keccak256([]byte(prefix), msg)
}
