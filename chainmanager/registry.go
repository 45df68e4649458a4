package chainmanager

import (
	"context"
	"sync"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/common/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ChainCreator creates chains from their configuration.
type ChainCreator interface {
	CreateChain(context.Context, *types.ChainConfig, *logrus.Logger) (types.Chain, error)
}

type blockchainRegistry struct {
	logger      *logrus.Logger
	factory     ChainCreator
	chains      map[uint64]types.Chain
	chainsMutex sync.RWMutex
}

// NewChainRegistry creates a registry that builds chains with the given factory.
//
// Parameters:
// - factory: the chain factory.
// - logger: the logger passed to every created chain.
//
// Returns:
// - types.ChainRegistry: the registry.
func NewChainRegistry(factory ChainCreator, logger *logrus.Logger) types.ChainRegistry {
	return &blockchainRegistry{
		chains:  make(map[uint64]types.Chain),
		factory: factory,
		logger:  logger,
	}
}

func (r *blockchainRegistry) Add(ctx context.Context, config *types.ChainConfig) error {
	if r.factory == nil {
		return commonerrors.ErrFactoryNotProvided
	}
	if config == nil || config.ChainID == 0 {
		return commonerrors.ErrInvalidChainID
	}

	r.chainsMutex.RLock()
	_, exists := r.chains[config.ChainID]
	r.chainsMutex.RUnlock()
	if exists {
		return errors.Wrapf(commonerrors.ErrChainExists, "chain %d", config.ChainID)
	}

	chain, err := r.factory.CreateChain(ctx, config, r.logger)
	if err != nil {
		return errors.Wrapf(err, "failed to create chain %s", config.Name)
	}

	r.chainsMutex.Lock()
	defer r.chainsMutex.Unlock()

	if _, exists := r.chains[config.ChainID]; exists {
		chain.Close()
		return errors.Wrapf(commonerrors.ErrChainExists, "chain %d", config.ChainID)
	}
	r.chains[config.ChainID] = chain

	r.logger.WithFields(logrus.Fields{
		"chain":   config.Name,
		"chainID": config.ChainID,
	}).Info("Chain added to registry")

	return nil
}

func (r *blockchainRegistry) Get(chainID uint64) types.Chain {
	r.chainsMutex.RLock()
	defer r.chainsMutex.RUnlock()
	return r.chains[chainID]
}

func (r *blockchainRegistry) Remove(chainID uint64) {
	r.chainsMutex.Lock()
	chain := r.chains[chainID]
	delete(r.chains, chainID)
	r.chainsMutex.Unlock()

	if chain != nil {
		chain.Close()
	}
}

func (r *blockchainRegistry) Close() {
	r.chainsMutex.Lock()
	chains := r.chains
	r.chains = make(map[uint64]types.Chain)
	r.chainsMutex.Unlock()

	for _, chain := range chains {
		chain.Close()
	}
}
