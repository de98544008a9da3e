package domain

// Reservation is stock taken from one product by a single checkout.
type Reservation struct {
	ProductID string
	Quantity  int
}

// ReservationLog records successful decrements so they can be undone if a
// later step of the same checkout fails.
type ReservationLog struct {
	entries []Reservation
}

func (l *ReservationLog) Record(productID string, quantity int) {
	l.entries = append(l.entries, Reservation{ProductID: productID, Quantity: quantity})
}

func (l *ReservationLog) Len() int {
	return len(l.entries)
}

// Reversed returns the entries newest first, the order rollback replays them.
func (l *ReservationLog) Reversed() []Reservation {
	out := make([]Reservation, len(l.entries))
	for i, r := range l.entries {
		out[len(l.entries)-1-i] = r
	}
	return out
}
