package models

import "github.com/shopspring/decimal"

// ExchangeRate is the price of one unit of a foreign currency in TRY.
// BuyRate is what the bank pays, SellRate what the customer pays.
type ExchangeRate struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Symbol   string          `json:"symbol"`
	BuyRate  decimal.Decimal `json:"buy_rate"`
	SellRate decimal.Decimal `json:"sell_rate"`
}

type CurrencyInfo struct {
	Name   string
	Symbol string
}

var currencies = map[string]CurrencyInfo{
	"USD": {Name: "US Dollar", Symbol: "$"},
	"EUR": {Name: "Euro", Symbol: "€"},
	"GBP": {Name: "British Pound", Symbol: "£"},
}

// LookupCurrency returns display metadata, falling back to the code itself.
func LookupCurrency(code string) CurrencyInfo {
	if info, ok := currencies[code]; ok {
		return info
	}
	return CurrencyInfo{Name: code, Symbol: code}
}
