// Package testutil provides common constants and utilities for tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second

	// TestRateLimit is a small per-minute budget that tests can exhaust quickly
	TestRateLimit = 5

	// TestWorkers is the goroutine count used by concurrency tests
	TestWorkers = 50
)

// Common test strings
const (
	// TestIdentity is a default caller identity
	TestIdentity = "analyst@example.com"

	// TestSalesTable is the sales fixture table name
	TestSalesTable = "sales"

	// TestTransactionsTable is the transactions fixture table name
	TestTransactionsTable = "transactions"

	// TestCustomersTable is the customers fixture table name
	TestCustomersTable = "customers"
)

// TestEpoch is a fixed instant used by fake clocks
var TestEpoch = time.Date(2026, time.January, 15, 9, 0, 0, 0, time.UTC)
