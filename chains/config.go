package chains

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	ProviderAttempts int `envconfig:"PROVIDER_ATTEMPTS" default:"3"`
	ProviderTimeout  int `envconfig:"PROVIDER_TIMEOUT" default:"30"` // seconds

	BTCXpub          string          `envconfig:"BTC_XPUB"`
	BTCEsploraUrl    string          `envconfig:"BTC_ESPLORA_URL" default:"https://blockstream.info/api"`
	BTCConfirmations int64           `envconfig:"BTC_CONFIRMATIONS" default:"3"`
	BTCTolerance     decimal.Decimal `envconfig:"BTC_TOLERANCE" default:"0.005"`
	BTCRateLimit     float64         `envconfig:"BTC_RPS" default:"5"`

	LTCXpub          string          `envconfig:"LTC_XPUB"`
	LTCEsploraUrl    string          `envconfig:"LTC_ESPLORA_URL" default:"https://litecoinspace.org/api"`
	LTCConfirmations int64           `envconfig:"LTC_CONFIRMATIONS" default:"6"`
	LTCTolerance     decimal.Decimal `envconfig:"LTC_TOLERANCE" default:"0.005"`
	LTCRateLimit     float64         `envconfig:"LTC_RPS" default:"5"`

	ETHXpub          string          `envconfig:"ETH_XPUB"`
	ETHRpcUrl        string          `envconfig:"ETH_RPC_URL"`
	ETHConfirmations int64           `envconfig:"ETH_CONFIRMATIONS" default:"12"`
	ETHTolerance     decimal.Decimal `envconfig:"ETH_TOLERANCE" default:"0.005"`
	ETHUsdtContract  string          `envconfig:"ETH_USDT_CONTRACT" default:"0xdAC17F958D2ee523a2206206994597C13D831ec7"`
	ERC20Tolerance   decimal.Decimal `envconfig:"ERC20_TOLERANCE" default:"0.01"`
	ERC20LogLookback uint64          `envconfig:"ERC20_LOG_LOOKBACK" default:"5000"` // blocks
	ETHScanLookback  uint64          `envconfig:"ETH_SCAN_LOOKBACK" default:"50"`    // blocks scanned on the first sweep
	ETHScanMaxBlocks uint64          `envconfig:"ETH_SCAN_MAX_BLOCKS" default:"100"` // blocks scanned per sweep
	ETHRateLimit     float64         `envconfig:"ETH_RPS" default:"10"`

	TRONXpub                  string          `envconfig:"TRON_XPUB"`
	TRONApiUrl                string          `envconfig:"TRON_API_URL" default:"https://api.trongrid.io"`
	TRONApiKey                string          `envconfig:"TRON_API_KEY"`
	TRONUsdtContract          string          `envconfig:"TRON_USDT_CONTRACT" default:"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"`
	TRC20Tolerance            decimal.Decimal `envconfig:"TRC20_TOLERANCE" default:"0.01"`
	TRC20NominalConfirmations int64           `envconfig:"TRC20_CONFIRMATIONS" default:"19"`
	TRONRateLimit             float64         `envconfig:"TRON_RPS" default:"10"`

	BlockCypherUrl         string `envconfig:"BLOCKCYPHER_URL" default:"https://api.blockcypher.com/v1"`
	BlockCypherToken       string `envconfig:"BLOCKCYPHER_TOKEN"`
	BlockCypherCallbackUrl string `envconfig:"BLOCKCYPHER_CALLBACK_URL"`
}

func LoadConfig() (c *Config, err error) {
	c = &Config{}
	err = envconfig.Process("", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}
