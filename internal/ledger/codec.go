package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func decodeAmount(raw string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("decode stored amount %q: %w", raw, err)
	}
	return *v, nil
}

func decodeSupply(deposited, withdrawn, pending string) (Supply, error) {
	var (
		s   Supply
		err error
	)
	if s.Deposited, err = decodeAmount(deposited); err != nil {
		return Supply{}, err
	}
	if s.Withdrawn, err = decodeAmount(withdrawn); err != nil {
		return Supply{}, err
	}
	if s.Pending, err = decodeAmount(pending); err != nil {
		return Supply{}, err
	}
	return s, nil
}

// hashBytes stores the zero hash as an empty value so unset event fields
// never match a history lookup.
func hashBytes(h common.Hash) []byte {
	if h == (common.Hash{}) {
		return []byte{}
	}
	return h.Bytes()
}

func addressBytes(a common.Address) []byte {
	if a == (common.Address{}) {
		return []byte{}
	}
	return a.Bytes()
}
