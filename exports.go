package ledger

import (
	"github.com/lexbox/ledger/id"
	"github.com/lexbox/ledger/types"
)

// ID identifies entries, invoices, payments and documents.
type ID = id.ID

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Hours is re-exported from types package.
type Hours = types.Hours

// Percent is re-exported from types package.
type Percent = types.Percent

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	EUR  = types.EUR
	USD  = types.USD
	GBP  = types.GBP
	Zero = types.Zero
	Sum  = types.Sum
)

// Re-export parsers
var (
	ParseMoney   = types.ParseMoney
	ParseHours   = types.ParseHours
	ParsePercent = types.ParsePercent
)
