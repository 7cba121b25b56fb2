package chains

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentURI builds the wallet URI encoded into invoice QR codes.
func PaymentURI(asset, address string, amount decimal.Decimal) string {
	switch asset {
	case AssetBTC:
		return fmt.Sprintf("bitcoin:%s?amount=%s", address, amount.String())
	case AssetLTC:
		return fmt.Sprintf("litecoin:%s?amount=%s", address, amount.String())
	case AssetETH:
		// EIP-681, value in wei
		return fmt.Sprintf("ethereum:%s?value=%s", address, amount.Shift(18).Truncate(0).String())
	}
	return address
}
