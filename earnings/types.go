/*
Package earnings computes employee/business earnings splits.

PURPOSE:
  Given service records (each stamped with a calendar date and a monetary
  amount), compute per-user and global statistics by resolving the
  revenue-share percentage in force on each record's date.

WHY PER-RECORD RESOLUTION:
  The percentage may differ across records spanning several history
  intervals. A "current percentage × total earnings" shortcut is wrong
  the moment any historical change exists; every record must be resolved
  at its own date.

OWNERSHIP:
  Service records belong to their employee; this package only reads them.
  The percentage history belongs to the split ledger; this package only
  resolves against it.
*/
package earnings

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/earnings-engine/split"
)

// ServiceRecord is one billable service logged for an employee.
// The owner and the date are immutable after creation; only the comment
// is ever updated.
type ServiceRecord struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ServiceName string
	Client      string
	Time        string // display time of day, e.g. "2:30 PM"
	Earnings    decimal.Decimal
	Date        split.Date
	Comment     string
	CreatedAt   time.Time
}

// UserStats summarizes one user's services and their share of earnings.
// UserShare = Σ earnings_i × percentage(date_i).
type UserStats struct {
	TotalServices int             `json:"total_services"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
	UserShare     decimal.Decimal `json:"user_share"`
}

// Employee identifies a stats subject. Users with zero records still get
// an all-zero stats row.
type Employee struct {
	ID       uuid.UUID
	Username string
}

// EmployeeStats pairs an employee with their stats for admin views.
type EmployeeStats struct {
	UserID   uuid.UUID `json:"id"`
	Username string    `json:"username"`
	UserStats
}

// GlobalStats is the business-side rollup across all employees.
// TotalAdminEarnings = Σ earnings_i × (1 − percentage(date_i)).
type GlobalStats struct {
	TotalAdminEarnings decimal.Decimal `json:"total_admin_earnings"`
	TotalServices      int             `json:"total_services"`
	ActiveEmployees    int             `json:"active_employees"`
}
