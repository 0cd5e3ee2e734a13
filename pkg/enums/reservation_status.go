package enums

// ReservationStatus tracks one order's hold on a ledger batch from
// creation until it is dispensed or handed back.
type ReservationStatus string

const (
	ReservationStatusActive   ReservationStatus = "active"
	ReservationStatusConsumed ReservationStatus = "consumed"
	ReservationStatusReleased ReservationStatus = "released"
)

// String implements fmt.Stringer.
func (r ReservationStatus) String() string {
	return string(r)
}
