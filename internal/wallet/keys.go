package wallet

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidMnemonic is returned for phrases that fail the BIP-39 checksum.
var ErrInvalidMnemonic = errors.New("invalid BIP-39 mnemonic")

// ethAccountPath is m/44'/60'/0'/0, the parent of the per-index account keys.
var ethAccountPath = []uint32{
	hdkeychain.HardenedKeyStart + 44,
	hdkeychain.HardenedKeyStart + 60,
	hdkeychain.HardenedKeyStart + 0,
	0,
}

// AccountFromHex creates an account from a hex-encoded private key.
// A leading 0x is accepted.
func AccountFromHex(hexKey string) (*Account, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewAccount(privateKey), nil
}

// AccountFromKeystore decrypts a Web3 Secret Storage (V3) key file.
func AccountFromKeystore(path, password string) (*Account, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore %s: %w", path, err)
	}
	return NewAccount(key.PrivateKey), nil
}

// AccountsFromMnemonic derives count accounts along m/44'/60'/0'/0/i, the
// path used by MetaMask, Hardhat and Anvil.
func AccountsFromMnemonic(mnemonic string, count int) ([]*Account, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	if count <= 0 {
		count = 1
	}

	seed := bip39.NewSeed(mnemonic, "")

	// The network params only affect serialization, never the derived keys.
	parent, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	for _, index := range ethAccountPath {
		parent, err = parent.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive account path: %w", err)
		}
	}

	accounts := make([]*Account, 0, count)
	for i := 0; i < count; i++ {
		acc, err := deriveAccount(parent, uint32(i))
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func deriveAccount(parent *hdkeychain.ExtendedKey, index uint32) (*Account, error) {
	child, err := parent.Derive(index)
	if err != nil {
		return nil, err
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(priv.Serialize())
	if err != nil {
		return nil, err
	}
	return NewAccount(key), nil
}
