package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// GetBalance gets the native balance of the given address at the latest block.
//
// Parameters:
// - ctx: the context for managing the request
// - address: the address to check balance for
//
// Returns:
// - *big.Int: the balance in wei
// - error: an error if the address is malformed or the balance check fails
func (e *evm) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	client := e.getClient()
	if client == nil {
		return nil, errors.New("client not initialized")
	}

	if !common.IsHexAddress(address) {
		return nil, errors.Errorf("invalid address %q", address)
	}

	balance, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get native balance")
	}

	return balance, nil
}
