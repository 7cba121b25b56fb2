package chains

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/payhub/payhub.go/common"
)

// litecoinParams only carries what bech32 encoding needs.
var litecoinParams = chaincfg.Params{
	Name:             "litecoin",
	Bech32HRPSegwit:  "ltc",
	PubKeyHashAddrID: 0x30,
	ScriptHashAddrID: 0x32,
}

// AddressDeriver derives receive addresses from per-chain account level
// extended public keys: m/.../0/index.
type AddressDeriver struct {
	external map[string]*hdkeychain.ExtendedKey
}

func NewAddressDeriver(xpubs map[string]string) (*AddressDeriver, error) {
	d := &AddressDeriver{external: map[string]*hdkeychain.ExtendedKey{}}
	for chain, xpub := range xpubs {
		if xpub == "" {
			continue
		}
		key, err := hdkeychain.NewKeyFromString(xpub)
		if err != nil {
			return nil, fmt.Errorf("invalid %s extended key: %w", chain, err)
		}
		if key.IsPrivate() {
			return nil, fmt.Errorf("%s extended key must be public", chain)
		}
		external, err := key.Derive(0)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s external chain: %w", chain, err)
		}
		d.external[chain] = external
	}
	return d, nil
}

func (d *AddressDeriver) Supports(chain string) bool {
	_, ok := d.external[chain]
	return ok
}

// Derive returns the address at index. The same index always yields the same address.
func (d *AddressDeriver) Derive(chain string, index int64) (string, error) {
	external, ok := d.external[chain]
	if !ok {
		return "", fmt.Errorf("%w: no extended key configured for %s", ErrUnsupportedAsset, chain)
	}
	if index < 0 || index >= hdkeychain.HardenedKeyStart {
		return "", fmt.Errorf("address index %d out of range", index)
	}
	child, err := external.Derive(uint32(index))
	if err != nil {
		return "", err
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return "", err
	}

	switch chain {
	case common.ChainBTC, common.ChainLTC:
		params := &chaincfg.MainNetParams
		if chain == common.ChainLTC {
			params = &litecoinParams
		}
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case common.ChainETH:
		return crypto.PubkeyToAddress(*pub.ToECDSA()).Hex(), nil
	case common.ChainTRON:
		return address.PubkeyToAddress(*pub.ToECDSA()).String(), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedAsset, chain)
}
