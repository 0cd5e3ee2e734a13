package enums

// StockSource tags which of the three stock representations satisfied an
// availability lookup: the dedicated batch store, the ledger-tracked
// batches, or the legacy flat quantity on the drug record.
type StockSource string

const (
	StockSourceBatchStore     StockSource = "batch_store"
	StockSourceLedger         StockSource = "ledger"
	StockSourceLegacyQuantity StockSource = "legacy_quantity"
)

// String implements fmt.Stringer.
func (s StockSource) String() string {
	return string(s)
}
