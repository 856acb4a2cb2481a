package usagesync

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

var testNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
