package observable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSet(t *testing.T) {
	v := NewValue("initial")
	assert.Equal(t, "initial", v.Get())

	v.Set("updated")
	assert.Equal(t, "updated", v.Get())
}

func TestSubscribeNotifiesSynchronously(t *testing.T) {
	v := NewValue(0)

	var seen []int
	cancel := v.Subscribe(func(n int) { seen = append(seen, n) })
	defer cancel()

	v.Set(1)
	v.Set(2)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestMultipleObservers(t *testing.T) {
	v := NewValue("")

	var a, b string
	v.Subscribe(func(s string) { a = s })
	v.Subscribe(func(s string) { b = s })

	v.Set("x")
	assert.Equal(t, "x", a)
	assert.Equal(t, "x", b)
}

func TestCancelStopsNotifications(t *testing.T) {
	v := NewValue(0)

	calls := 0
	cancel := v.Subscribe(func(int) { calls++ })

	v.Set(1)
	cancel()
	cancel() // Idempotent.
	v.Set(2)

	assert.Equal(t, 1, calls)
}
