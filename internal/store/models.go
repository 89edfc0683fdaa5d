package store

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoomType string

const (
	RoomTypePyramid RoomType = "pyramid"
	RoomTypeCam2Cam RoomType = "cam2cam"
)

type RoomStatus string

const (
	RoomInactive RoomStatus = "inactive"
	RoomActive   RoomStatus = "active"
	RoomDeleted  RoomStatus = "deleted"
)

type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionLive    SessionStatus = "live"
	SessionEnded   SessionStatus = "ended"
)

// EndKind is the disconnection type recorded when a session ends.
type EndKind string

const (
	EndNormal       EndKind = "normal"
	EndDisconnected EndKind = "disconnected"
	EndKicked       EndKind = "kicked"
	EndRoomClosed   EndKind = "room_closed"
)

type AttendanceStatus string

const (
	AttendanceActive AttendanceStatus = "active"
	AttendanceExited AttendanceStatus = "exited"
)

type ExitKind string

const (
	ExitNormal              ExitKind = "normal"
	ExitForced              ExitKind = "forced"
	ExitInsufficientCredits ExitKind = "insufficient_credits"
	ExitSessionEnded        ExitKind = "session_ended"
)

type PurchaseStatus string

const (
	PurchasePending       PurchaseStatus = "pending"
	PurchaseCompleted     PurchaseStatus = "completed"
	PurchaseFailed        PurchaseStatus = "failed"
	PurchaseRefunded      PurchaseStatus = "refunded"
	PurchaseDeficitRefund PurchaseStatus = "deficit_refund"
)

type LedgerOp string

const (
	OpFreeze  LedgerOp = "freeze"
	OpExtend  LedgerOp = "extend"
	OpCapture LedgerOp = "capture"
	OpRelease LedgerOp = "release"
	OpCredit  LedgerOp = "credit"
	OpDebit   LedgerOp = "debit"
)

type Wallet struct {
	AccountID  int64           `json:"account_id"`
	Balance    decimal.Decimal `json:"balance"`
	Frozen     decimal.Decimal `json:"frozen"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	Halted     bool            `json:"halted"`
	HaltReason string          `json:"halt_reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type LedgerEntry struct {
	ID             string          `json:"id"`
	AccountID      int64           `json:"account_id"`
	Op             LedgerOp        `json:"op"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	FrozenAfter    decimal.Decimal `json:"frozen_after"`
	RefType        string          `json:"ref_type"`
	RefID          string          `json:"ref_id"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

type LedgerFilter struct {
	AccountID int64
	Op        LedgerOp
	RefType   string
	RefID     string
}

type Room struct {
	ID                int64           `json:"id"`
	Position          int             `json:"position"`
	OccupyingStreamer *int64          `json:"occupying_streamer"`
	Status            RoomStatus      `json:"status"`
	RatePerMinute     decimal.Decimal `json:"rate_per_minute"`
	IsPinned          bool            `json:"is_pinned"`
	EntryTimestamp    *time.Time      `json:"entry_timestamp"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Session struct {
	ID                string          `json:"id"`
	RoomType          RoomType        `json:"room_type"`
	RoomID            *int64          `json:"room_id"`
	StreamerID        int64           `json:"streamer_id"`
	Status            SessionStatus   `json:"status"`
	StartedAt         *time.Time      `json:"started_at"`
	EndedAt           *time.Time      `json:"ended_at"`
	CreditsEarned     decimal.Decimal `json:"credits_earned"`
	DisconnectionType EndKind         `json:"disconnection_type,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Attendance is one viewer's metered presence within a session. Held is the
// part of the viewer's frozen balance reserved for this record and
// SettledThrough is the last whole-minute boundary already billed. A capped
// attendance sold at a flat price carries it in FlatPrice so the last minute
// can collect what the truncated rate leaves over.
type Attendance struct {
	ID             string              `json:"id"`
	SessionID      string              `json:"session_id"`
	ViewerID       int64               `json:"viewer_id"`
	EnteredAt      time.Time           `json:"entered_at"`
	ExitedAt       *time.Time          `json:"exited_at"`
	RatePerMinute  decimal.Decimal     `json:"rate_per_minute"`
	MaxMinutes     int                 `json:"max_minutes"`
	FlatPrice      decimal.NullDecimal `json:"flat_price"`
	TotalMinutes   int64               `json:"total_minutes"`
	TotalCharged   decimal.Decimal     `json:"total_charged"`
	Held           decimal.Decimal     `json:"held"`
	SettledThrough time.Time           `json:"settled_through"`
	Status         AttendanceStatus    `json:"status"`
	ExitKind       ExitKind            `json:"exit_kind,omitempty"`
	ExitReason     string              `json:"exit_reason,omitempty"`
}

type PricingTier struct {
	StreamerID     int64               `json:"streamer_id"`
	StreamerHandle string              `json:"streamer_handle"`
	Rate15         decimal.NullDecimal `json:"rate_15"`
	Rate30         decimal.NullDecimal `json:"rate_30"`
	Rate45         decimal.NullDecimal `json:"rate_45"`
	Rate60         decimal.NullDecimal `json:"rate_60"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// TierDurations are the fixed cam2cam call lengths in minutes.
var TierDurations = []int{15, 30, 45, 60}

// RateFor returns the flat price for a call of the given duration.
func (t PricingTier) RateFor(minutes int) (decimal.Decimal, bool) {
	var v decimal.NullDecimal
	switch minutes {
	case 15:
		v = t.Rate15
	case 30:
		v = t.Rate30
	case 45:
		v = t.Rate45
	case 60:
		v = t.Rate60
	}
	return v.Decimal, v.Valid
}

type PricingPackage struct {
	ID               int64           `json:"id"`
	DurationMinutes  int             `json:"duration_minutes"`
	CreditCost       decimal.Decimal `json:"credit_cost"`
	MinViewerCredits decimal.Decimal `json:"min_viewer_credits"`
	DisplayOrder     int             `json:"display_order"`
	Active           bool            `json:"active"`
}

type Purchase struct {
	ID               string          `json:"id"`
	AccountID        int64           `json:"account_id"`
	CreditsPurchased decimal.Decimal `json:"credits_purchased"`
	AmountCharged    decimal.Decimal `json:"amount_charged"`
	DiscountApplied  decimal.Decimal `json:"discount_applied"`
	FinalAmount      decimal.Decimal `json:"final_amount"`
	Status           PurchaseStatus  `json:"status"`
	GatewayRef       string          `json:"gateway_ref"`
	DeficitAmount    decimal.Decimal `json:"deficit_amount"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
	RefundedAt       *time.Time      `json:"refunded_at"`
}

type Membership struct {
	AccountID          int64
	DiscountPercentage decimal.Decimal
	ExpiresAt          *time.Time
}
