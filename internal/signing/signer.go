package signing

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/meridianlabs/fundbot/internal/executor"
)

// Keyring holds the decrypted private keys of the custody wallets, keyed by
// their derived address. It signs transfer requests by looking up the key
// matching the request's funding wallet.
type Keyring struct {
	mu   sync.RWMutex
	keys map[common.Address]*ecdsa.PrivateKey
}

// NewKeyring creates an empty Keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey)}
}

// AddKey loads a hex-encoded secp256k1 private key and returns its derived
// address.
func (k *Keyring) AddKey(privateKeyHex string) (common.Address, error) {
	hexKey, err := LoadKey(KeyConfig{RawPrivateKey: privateKeyHex})
	if err != nil {
		return common.Address{}, err
	}
	pk, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("signing: invalid private key: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)
	k.mu.Lock()
	k.keys[addr] = pk
	k.mu.Unlock()
	return addr, nil
}

// AddKeyFromConfig resolves a key via LoadKey and adds it to the ring.
func (k *Keyring) AddKeyFromConfig(cfg KeyConfig) (common.Address, error) {
	hexKey, err := LoadKey(cfg)
	if err != nil {
		return common.Address{}, err
	}
	return k.AddKey(hexKey)
}

// Addresses returns the addresses of all loaded keys.
func (k *Keyring) Addresses() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	addrs := make([]common.Address, 0, len(k.keys))
	for a := range k.keys {
		addrs = append(addrs, a)
	}
	return addrs
}

// SignTransfer signs the request digest with the key of the request's From
// address and stores the 65-byte r||s||v signature on the request.
func (k *Keyring) SignTransfer(req *executor.TxRequest) error {
	k.mu.RLock()
	pk, ok := k.keys[req.From]
	k.mu.RUnlock()
	if !ok {
		return fmt.Errorf("signing: no key loaded for wallet %s", req.From)
	}

	sig, err := ethcrypto.Sign(req.Digest().Bytes(), pk)
	if err != nil {
		return fmt.Errorf("signing: signing transfer %s: %w", req.TxID, err)
	}
	// go-ethereum returns v in {0,1}; recovery expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	req.Signature = sig
	return nil
}

var _ executor.Signer = (*Keyring)(nil)
