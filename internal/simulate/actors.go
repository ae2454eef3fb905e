package simulate

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type actor struct {
	name    string
	key     *ecdsa.PrivateKey
	address common.Address
}

// actors derives one secp256k1 key per name so the same scenario always
// produces the same addresses and signatures.
type actors struct {
	byName map[string]*actor
}

func newActors() *actors {
	return &actors{byName: make(map[string]*actor)}
}

func (a *actors) get(name string) (*actor, error) {
	if existing, ok := a.byName[name]; ok {
		return existing, nil
	}
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte("actor:" + name)))
	if err != nil {
		return nil, fmt.Errorf("derive key for %s: %w", name, err)
	}
	created := &actor{name: name, key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
	a.byName[name] = created
	return created, nil
}

// resolve maps an account reference to an address. Hex addresses are taken
// as-is; anything else names an actor.
func (a *actors) resolve(ref string) (common.Address, error) {
	if ref == "" {
		return common.Address{}, fmt.Errorf("empty account")
	}
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), nil
	}
	act, err := a.get(ref)
	if err != nil {
		return common.Address{}, err
	}
	return act.address, nil
}

// derivedAddress returns a stable contract address for a label.
func derivedAddress(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}
