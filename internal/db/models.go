package db

import (
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Router status values
const (
	RouterOnline  = "online"
	RouterOffline = "offline"
)

// Voucher status values. Transitions are one-way: unused -> used or
// unused -> expired, both terminal.
const (
	VoucherUnused  = "unused"
	VoucherUsed    = "used"
	VoucherExpired = "expired"
)

// Router represents a managed network access server
type Router struct {
	ID           uuid.UUID
	Name         string
	IPAddress    string
	Username     string
	Password     string
	APIPort      int
	Description  *string
	Model        *string
	Version      *string
	SerialNumber *string
	Identity     *string
	Status       string
	LastSync     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Addr returns the control-channel dial address.
func (r *Router) Addr() string {
	return net.JoinHostPort(r.IPAddress, strconv.Itoa(r.APIPort))
}

// PPPoEProfile represents a named bundle of service parameters
type PPPoEProfile struct {
	ID           uuid.UUID
	Name         string
	RateLimit    string // format: 'DownloadLimit/UploadLimit', e.g. '10M/2M'
	AddressPool  *string
	LocalAddress *string
	DNS1         *string
	DNS2         *string
	Service      string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PPPoEAccount represents a subscriber access account
type PPPoEAccount struct {
	ID           uuid.UUID
	Username     string
	Password     string
	ProfileID    uuid.UUID
	CustomerID   *uuid.UUID
	IPAddress    *string
	LocalAddress *string
	IsVoucher    bool
	ValidUntil   *time.Time
	IsActive     bool
	Comment      *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Voucher represents a prepaid single-use access code
type Voucher struct {
	ID           uuid.UUID
	Code         string
	ProfileID    uuid.UUID
	ValidityDays int
	Price        float64
	Status       string
	ExpiryDate   time.Time
	UsedBy       *string
	UsedAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
