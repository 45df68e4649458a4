package evm

import (
	"context"
	"math/big"
	"strings"

	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const (
	// FaucetRelayerABI is the part of the FaucetRelayer contract the relay service calls.
	FaucetRelayerABI = `[
		{"type":"function","name":"executeMetaTransaction","stateMutability":"nonpayable",
		 "inputs":[{"name":"userAddress","type":"address"},{"name":"nonce","type":"uint256"},{"name":"signature","type":"bytes"}],
		 "outputs":[]},
		{"type":"function","name":"getMessageHash","stateMutability":"view",
		 "inputs":[{"name":"userAddress","type":"address"},{"name":"nonce","type":"uint256"}],
		 "outputs":[{"name":"","type":"bytes32"}]}
	]`

	// FaucetABI is the part of the Faucet contract used to check relayer authorization.
	FaucetABI = `[
		{"type":"function","name":"authorizedRelayers","stateMutability":"view",
		 "inputs":[{"name":"","type":"address"}],
		 "outputs":[{"name":"","type":"bool"}]}
	]`

	methodExecuteMetaTransaction = "executeMetaTransaction"
	methodGetMessageHash         = "getMessageHash"
	methodAuthorizedRelayers     = "authorizedRelayers"
)

var (
	relayerABI = mustParseABI(FaucetRelayerABI)
	faucetABI  = mustParseABI(FaucetABI)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(errors.Wrap(err, "failed to parse contract ABI"))
	}
	return parsed
}

// EncodeExecuteMetaTransaction encodes executeMetaTransaction(userAddress, nonce, signature) call data.
//
// Parameters:
// - claim: the claim request to forward.
//
// Returns:
// - []byte: the call data.
// - error: an error if the claim cannot be ABI encoded.
func EncodeExecuteMetaTransaction(claim *types.ClaimRequest) ([]byte, error) {
	if claim == nil || claim.Nonce == nil {
		return nil, errors.New("incomplete claim request")
	}

	data, err := relayerABI.Pack(methodExecuteMetaTransaction, claim.Claimant, claim.Nonce, claim.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack executeMetaTransaction data")
	}
	return data, nil
}

// GetMessageHash asks the relayer contract for the hash a claimant has to sign for the nonce.
//
// Parameters:
// - ctx: the context for managing the request.
// - claimant: the claimant address.
// - nonce: the claim nonce.
//
// Returns:
// - common.Hash: the message hash.
// - error: an error if no relayer contract is configured or the call fails.
func (e *evm) GetMessageHash(ctx context.Context, claimant string, nonce *big.Int) (common.Hash, error) {
	if e.config.RelayerContract == "" {
		return common.Hash{}, errors.New("relayer contract not configured")
	}

	out, err := e.callContract(ctx, relayerABI, e.config.RelayerContract, methodGetMessageHash, common.HexToAddress(claimant), nonce)
	if err != nil {
		return common.Hash{}, err
	}

	hash, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, errors.New("unexpected getMessageHash result")
	}
	return hash, nil
}

// IsRelayerAuthorized reports whether the faucet contract accepts calls from the relayer contract.
//
// Parameters:
// - ctx: the context for managing the request.
//
// Returns:
// - bool: true if authorizedRelayers(relayerContract) is set.
// - error: an error if a contract address is missing or the call fails.
func (e *evm) IsRelayerAuthorized(ctx context.Context) (bool, error) {
	if e.config.FaucetContract == "" || e.config.RelayerContract == "" {
		return false, errors.New("faucet or relayer contract not configured")
	}

	out, err := e.callContract(ctx, faucetABI, e.config.FaucetContract, methodAuthorizedRelayers, common.HexToAddress(e.config.RelayerContract))
	if err != nil {
		return false, err
	}

	authorized, ok := out[0].(bool)
	if !ok {
		return false, errors.New("unexpected authorizedRelayers result")
	}
	return authorized, nil
}

// callContract performs a read-only call against the latest block and unpacks the result.
func (e *evm) callContract(ctx context.Context, contractABI abi.ABI, contract, method string, args ...interface{}) ([]interface{}, error) {
	client := e.getClient()
	if client == nil {
		return nil, errors.New("client not initialized")
	}

	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack %s data", method)
	}

	to := common.HexToAddress(contract)
	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call %s", method)
	}
	if len(result) == 0 {
		return nil, errors.Errorf("empty result from %s call", method)
	}

	out, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s result", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("no outputs from %s call", method)
	}
	return out, nil
}
