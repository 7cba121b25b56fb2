package common

const (
	ChainBTC  = "BTC"
	ChainETH  = "ETH"
	ChainTRON = "TRON"
	ChainLTC  = "LTC"

	CurrencyBTC  = "BTC"
	CurrencyETH  = "ETH"
	CurrencyLTC  = "LTC"
	CurrencyUSDT = "USDT"

	InvoiceStatusPending = "pending"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusExpired = "expired"

	PaymentStatusPending   = "pending"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusFailed    = "failed"

	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCancelled = "cancelled"

	SubscriptionStatusPending = "pending"
	SubscriptionStatusPaid    = "paid"
	SubscriptionStatusFailed  = "failed"

	NotificationPaymentConfirmed = "payment_confirmed"
	NotificationOrderConfirmed   = "order_confirmed"
	NotificationSubscriptionPaid = "subscription_paid"
	NotificationInvoiceExpired   = "invoice_expired"

	RecipientBuyer  = "buyer"
	RecipientSeller = "seller"
	RecipientUser   = "user"
)

// Chains whose payments are discovered by the poller rather than pushed by webhooks.
var PollChains = []string{ChainETH, ChainTRON}

// Chains whose addresses get an external watch registered at invoice creation.
var PushChains = []string{ChainBTC, ChainLTC}

func IsPushChain(chain string) bool {
	for _, c := range PushChains {
		if c == chain {
			return true
		}
	}
	return false
}
