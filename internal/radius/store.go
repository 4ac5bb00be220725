// Package radius reads and writes the RADIUS-compatible relational
// schema (radcheck, radreply, radusergroup, radacct). It does not speak
// the RADIUS network protocol; the AAA server consumes these tables on
// its own.
package radius

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fault"
)

const (
	passwordAttribute = "Cleartext-Password"
	defaultOp         = ":="
)

// Attribute is a single RADIUS reply attribute
type Attribute struct {
	Name  string
	Value string
}

// AccountingSession is one active row from the radacct table
type AccountingSession struct {
	RadAcctID       int64
	AcctSessionID   string
	AcctUniqueID    string
	Username        string
	NASIPAddress    *string
	AcctStartTime   *time.Time
	AcctUpdateTime  *time.Time
	AcctStopTime    *time.Time
	AcctSessionTime *int64
	InputOctets     *int64
	OutputOctets    *int64
	TerminateCause  *string
	FramedIPAddress *string
}

// Store manages the account mirror in the RADIUS schema
type Store struct {
	pool   *db.RadiusPool
	logger *zap.Logger
}

// NewStore creates a new RADIUS account store
func NewStore(pool *db.RadiusPool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// CreateAccount writes the authentication row, one reply row per
// attribute and one group row per group (priority = 1-based position).
// The three writes are independent statements: a failure partway
// through leaves a partial mirror for DeleteAccount to clean up.
func (s *Store) CreateAccount(ctx context.Context, username, password string, attributes []Attribute, groups []string) error {
	checkQuery := `
		INSERT INTO radcheck (username, attribute, op, value)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.pool.Exec(ctx, checkQuery, username, passwordAttribute, defaultOp, password); err != nil {
		return fault.External("radius store", fmt.Errorf("failed to insert radcheck row: %w", err))
	}

	replyQuery := `
		INSERT INTO radreply (username, attribute, op, value)
		VALUES ($1, $2, $3, $4)
	`
	for _, attr := range attributes {
		if _, err := s.pool.Exec(ctx, replyQuery, username, attr.Name, defaultOp, attr.Value); err != nil {
			return fault.External("radius store", fmt.Errorf("failed to insert radreply row %s: %w", attr.Name, err))
		}
	}

	groupQuery := `
		INSERT INTO radusergroup (username, groupname, priority)
		VALUES ($1, $2, $3)
	`
	for i, group := range groups {
		if _, err := s.pool.Exec(ctx, groupQuery, username, group, i+1); err != nil {
			return fault.External("radius store", fmt.Errorf("failed to insert radusergroup row %s: %w", group, err))
		}
	}

	s.logger.Info("created radius account", zap.String("username", username),
		zap.Int("attributes", len(attributes)),
		zap.Int("groups", len(groups)))

	return nil
}

// DeleteAccount removes every row for the username across the three
// attribute tables. Absence of rows is not an error.
func (s *Store) DeleteAccount(ctx context.Context, username string) error {
	for _, table := range []string{"radcheck", "radreply", "radusergroup"} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE username = $1`, table)
		if _, err := s.pool.Exec(ctx, query, username); err != nil {
			return fault.External("radius store", fmt.Errorf("failed to delete from %s: %w", table, err))
		}
	}

	s.logger.Info("deleted radius account", zap.String("username", username))
	return nil
}

// ActiveSessions returns every accounting row whose stop time is unset
func (s *Store) ActiveSessions(ctx context.Context) ([]AccountingSession, error) {
	query := `
		SELECT radacctid, acctsessionid, acctuniqueid, username, nasipaddress,
			acctstarttime, acctupdatetime, acctstoptime, acctsessiontime,
			acctinputoctets, acctoutputoctets, acctterminatecause, framedipaddress
		FROM radacct
		WHERE acctstoptime IS NULL
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fault.External("radius store", fmt.Errorf("failed to query active sessions: %w", err))
	}
	defer rows.Close()

	var sessions []AccountingSession
	for rows.Next() {
		var sess AccountingSession
		err := rows.Scan(
			&sess.RadAcctID,
			&sess.AcctSessionID,
			&sess.AcctUniqueID,
			&sess.Username,
			&sess.NASIPAddress,
			&sess.AcctStartTime,
			&sess.AcctUpdateTime,
			&sess.AcctStopTime,
			&sess.AcctSessionTime,
			&sess.InputOctets,
			&sess.OutputOctets,
			&sess.TerminateCause,
			&sess.FramedIPAddress,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan accounting session: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return sessions, nil
}
