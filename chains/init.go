package chains

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/payhub/payhub.go/common"
	"github.com/ziflex/lecho/v3"
)

// Chains bundles the configured chain integrations.
type Chains struct {
	Registry     *Registry
	Deriver      *AddressDeriver
	Watcher      *BlockCypherWatcher
	BlockScanner *BlockScanner
	ethClient    *ethclient.Client
}

// InitChains registers a verifier for every chain with an extended public key.
func InitChains(ctx context.Context, cfg *Config, webhookSecret string, logger *lecho.Logger) (*Chains, error) {
	timeout := time.Duration(cfg.ProviderTimeout) * time.Second
	deriver, err := NewAddressDeriver(map[string]string{
		common.ChainBTC:  cfg.BTCXpub,
		common.ChainLTC:  cfg.LTCXpub,
		common.ChainETH:  cfg.ETHXpub,
		common.ChainTRON: cfg.TRONXpub,
	})
	if err != nil {
		return nil, err
	}

	c := &Chains{
		Registry: NewRegistry(),
		Deriver:  deriver,
		Watcher:  NewBlockCypherWatcher(cfg, webhookSecret),
	}

	if deriver.Supports(common.ChainBTC) {
		esplora := NewEsploraClient(cfg.BTCEsploraUrl, cfg.BTCRateLimit, timeout)
		c.Registry.Register(NewBTCVerifier(esplora, cfg.BTCConfirmations, cfg.BTCTolerance, cfg.ProviderAttempts))
	}
	if deriver.Supports(common.ChainLTC) {
		esplora := NewEsploraClient(cfg.LTCEsploraUrl, cfg.LTCRateLimit, timeout)
		c.Registry.Register(NewLTCVerifier(esplora, cfg.LTCConfirmations, cfg.LTCTolerance, cfg.ProviderAttempts))
	}
	if deriver.Supports(common.ChainETH) {
		if cfg.ETHRpcUrl == "" {
			return nil, fmt.Errorf("ETH_RPC_URL is required when ETH_XPUB is set")
		}
		client, err := ethclient.DialContext(ctx, cfg.ETHRpcUrl)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ethereum node: %w", err)
		}
		c.ethClient = client
		backend := NewRateLimitedBackend(client, cfg.ETHRateLimit)
		c.Registry.Register(NewEthereumVerifier(backend, cfg.ETHConfirmations, cfg.ETHTolerance, cfg.ProviderAttempts))
		erc20, err := NewERC20Verifier(backend, cfg.ETHUsdtContract, cfg.ETHConfirmations, cfg.ERC20Tolerance, cfg.ERC20LogLookback, cfg.ProviderAttempts)
		if err != nil {
			return nil, err
		}
		c.Registry.Register(erc20)
		c.BlockScanner = NewBlockScanner(backend, cfg.ETHScanLookback, cfg.ETHScanMaxBlocks, cfg.ProviderAttempts)
	}
	if deriver.Supports(common.ChainTRON) {
		trongrid := NewTronGridClient(cfg.TRONApiUrl, cfg.TRONApiKey, cfg.TRONRateLimit, timeout)
		trc20, err := NewTRC20Verifier(trongrid, cfg.TRONUsdtContract, cfg.TRC20NominalConfirmations, cfg.TRC20Tolerance, cfg.ProviderAttempts)
		if err != nil {
			return nil, err
		}
		c.Registry.Register(trc20)
	}

	if !c.Watcher.Enabled() {
		logger.Warn("BLOCKCYPHER_TOKEN or BLOCKCYPHER_CALLBACK_URL not set, BTC/LTC payments need manual or queue submission")
	}
	logger.Infof("Chain verifiers registered: %v", c.Registry.Assets())
	return c, nil
}

func (c *Chains) Close() {
	if c.ethClient != nil {
		c.ethClient.Close()
	}
}
