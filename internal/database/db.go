package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to MySQL and verifies the connection. The returned
// handle is the explicit resource the engine's transactions are opened
// on; nothing else in the process holds a connection pool.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime hands DATETIME back as time.Time; loc=UTC so deadlines
	// compare against UTC_TIMESTAMP() without conversion.
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings. Row locks are held only for the duration of single
	// transactions, so a modest pool is enough even under buy storms.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Verify connectivity before anything depends on the pool.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the engine's tables when they do not exist yet.
// sale_date is stored as a plain string column: with parseTime=true the
// driver would otherwise hand back a time.Time for DATE, and the window
// key only ever compares formatted dates.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			scope_id BIGINT UNSIGNED NOT NULL,
			round VARCHAR(16) NOT NULL,
			sale_date VARCHAR(10) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'OPEN',
			winning_animal INT UNSIGNED NULL,
			resulted_at DATETIME NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			UNIQUE KEY uq_sessions_window (scope_id, sale_date, round)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS capacity_lines (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			session_id BIGINT UNSIGNED NOT NULL,
			animal INT UNSIGNED NOT NULL,
			limit_cents BIGINT NOT NULL,
			sold_cents BIGINT NOT NULL DEFAULT 0,
			banned TINYINT(1) NOT NULL DEFAULT 0,
			ban_reason VARCHAR(255) NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			UNIQUE KEY uq_capacity_line (session_id, animal)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			order_no CHAR(32) NOT NULL,
			session_id BIGINT UNSIGNED NOT NULL,
			buyer_id BIGINT UNSIGNED NOT NULL,
			total_cents BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
			trade_no VARCHAR(64) NOT NULL DEFAULT '',
			pay_url VARCHAR(512) NOT NULL DEFAULT '',
			expires_at DATETIME NOT NULL,
			paid_at DATETIME NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			UNIQUE KEY uq_orders_order_no (order_no),
			KEY idx_orders_trade_no (trade_no),
			KEY idx_orders_buyer (buyer_id),
			KEY idx_orders_session_status (session_id, status),
			KEY idx_orders_status_expiry (status, expires_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS order_lines (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			order_id BIGINT UNSIGNED NOT NULL,
			animal INT UNSIGNED NOT NULL,
			animal_name VARCHAR(32) NOT NULL,
			quantity INT UNSIGNED NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			subtotal_cents BIGINT NOT NULL,
			PRIMARY KEY (id),
			KEY idx_order_lines_order (order_id, animal)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
