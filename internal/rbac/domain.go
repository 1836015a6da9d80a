package rbac

// Permission names checked by the HTTP layer.
const (
	PermQuotesView     = "quotes.view"
	PermQuotesCreate   = "quotes.create"
	PermQuotesEdit     = "quotes.edit"
	PermQuotesCashier  = "quotes.cashier"
	PermQuotesFinalize = "quotes.finalize"
	PermQuotesCancel   = "quotes.cancel"

	PermPurchasesView    = "purchases.view"
	PermPurchasesEdit    = "purchases.edit"
	PermPurchasesConfirm = "purchases.confirm"

	PermStockView = "stock.view"
	PermJobsRun   = "jobs.run"
)

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Role groups permissions.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
