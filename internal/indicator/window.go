package indicator

import "github.com/shopspring/decimal"

// window is a bounded FIFO of the last capacity values with a running sum.
// Push evicts the oldest entry once full, so length never exceeds capacity.
type window struct {
	capacity int
	values   []decimal.Decimal
	sum      decimal.Decimal
}

func newWindow(capacity int) *window {
	return &window{capacity: capacity, values: make([]decimal.Decimal, 0, capacity)}
}

// Push appends v, evicting the oldest value when the window is full.
func (w *window) Push(v decimal.Decimal) {
	if len(w.values) == w.capacity {
		w.sum = w.sum.Sub(w.values[0])
		copy(w.values, w.values[1:])
		w.values[len(w.values)-1] = v
	} else {
		w.values = append(w.values, v)
	}
	w.sum = w.sum.Add(v)
}

func (w *window) Len() int   { return len(w.values) }
func (w *window) Full() bool { return len(w.values) == w.capacity }

// Mean returns the arithmetic mean of the buffered values.
func (w *window) Mean() decimal.Decimal {
	if len(w.values) == 0 {
		return decimal.Zero
	}
	return w.sum.Div(decimal.NewFromInt(int64(len(w.values))))
}

// Values returns the buffered values oldest first. The slice is shared,
// callers must not mutate or retain it.
func (w *window) Values() []decimal.Decimal { return w.values }
