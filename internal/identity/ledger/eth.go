package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"heirloom/internal/platform/config"
	dErrors "heirloom/pkg/domain-errors"
)

// defaultABI covers the single allowlist entry point of the verification
// contract.
const defaultABI = `[{"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"verifyUser","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// Eth submits verifyUser transactions through a JSON-RPC endpoint and waits
// for them to be mined.
type Eth struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	signer   *bind.TransactOpts
	logger   *slog.Logger

	// Serializes submissions: the keyed transactor derives nonces from
	// pending state, which races under concurrent sends from one key.
	mu sync.Mutex
}

// NewEth validates the chain configuration, dials the RPC endpoint, and
// prepares the signing transactor.
func NewEth(ctx context.Context, cfg config.Chain, logger *slog.Logger) (*Eth, error) {
	if cfg.RPCURL == "" || cfg.PrivateKey == "" || cfg.ContractAddress == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "chain configuration missing for allowlisting")
	}

	abiJSON := cfg.ContractABI
	if abiJSON == "" {
		abiJSON = defaultABI
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid contract ABI")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid chain private key")
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}

	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	return &Eth{
		client:   client,
		contract: bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, client, client, client),
		signer:   signer,
		logger:   logger,
	}, nil
}

// Notify calls verifyUser(wallet) and waits for the receipt.
func (e *Eth) Notify(ctx context.Context, walletAddress string) error {
	if !common.IsHexAddress(walletAddress) {
		return dErrors.Newf(dErrors.CodeValidation, "not a valid wallet address: %s", walletAddress)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	opts := *e.signer
	opts.Context = ctx

	tx, err := e.contract.Transact(&opts, "verifyUser", common.HexToAddress(walletAddress))
	if err != nil {
		return fmt.Errorf("submit allowlist transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, e.client, tx)
	if err != nil {
		return fmt.Errorf("await allowlist transaction %s: %w", tx.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("allowlist transaction %s reverted", tx.Hash())
	}

	e.logger.InfoContext(ctx, "wallet allowlisted on chain",
		"wallet_address", walletAddress,
		"tx_hash", tx.Hash().Hex(),
		"gas_used", receipt.GasUsed,
	)
	return nil
}

// Close releases the RPC connection.
func (e *Eth) Close() {
	e.client.Close()
}
