package litecoin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

const (
	minAddressLen = 26
	maxAddressLen = 48
)

// MainNetParams are the Litecoin mainnet address parameters.
var MainNetParams = chaincfg.Params{
	Name:             "litecoin-mainnet",
	Net:              wire.BitcoinNet(0xdbb6c0fb),
	DefaultPort:      "9333",
	Bech32HRPSegwit:  "ltc",
	PubKeyHashAddrID: 0x30, // L
	ScriptHashAddrID: 0x32, // M
	PrivateKeyID:     0xb0,
	HDPrivateKeyID:   [4]byte{0x01, 0x9d, 0x9c, 0xfe}, // Ltpv
	HDPublicKeyID:    [4]byte{0x01, 0x9d, 0xa4, 0x62}, // Ltub
	HDCoinType:       2,
}

func init() {
	// btcutil resolves address version bytes through the chaincfg registry.
	if err := chaincfg.Register(&MainNetParams); err != nil && !errors.Is(err, chaincfg.ErrDuplicateNet) {
		panic(err)
	}
}

var validPrefixes = []string{"L", "M", "ltc1"}

type AddressValidator struct {
	params *chaincfg.Params
}

func NewAddressValidator() *AddressValidator {
	return &AddressValidator{params: &MainNetParams}
}

// ValidateAddress accepts P2PKH (L...), P2SH (M...) and bech32 (ltc1...)
// mainnet addresses with a valid checksum.
func (v *AddressValidator) ValidateAddress(address string) error {
	address = strings.TrimSpace(address)
	if len(address) < minAddressLen || len(address) > maxAddressLen {
		return fmt.Errorf("address length must be between %d and %d", minAddressLen, maxAddressLen)
	}

	hasPrefix := false
	for _, p := range validPrefixes {
		if strings.HasPrefix(address, p) {
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return fmt.Errorf("address must start with one of %v", validPrefixes)
	}

	decoded, err := btcutil.DecodeAddress(address, v.params)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if !decoded.IsForNet(v.params) {
		return fmt.Errorf("address is not a %s address", v.params.Name)
	}
	return nil
}

// ValidateWIF checks that key is a Litecoin mainnet private key in WIF.
func ValidateWIF(key string) error {
	wif, err := btcutil.DecodeWIF(strings.TrimSpace(key))
	if err != nil {
		return fmt.Errorf("decode wif: %w", err)
	}
	if !wif.IsForNet(&MainNetParams) {
		return fmt.Errorf("wif key is not for %s", MainNetParams.Name)
	}
	return nil
}
