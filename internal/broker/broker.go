// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package broker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// idleConnTTL is how long a pooled connection may sit idle before it is
// closed.
const idleConnTTL = 120 * time.Second

// maxConnsPerPool caps per-user connections to stay under Toolforge's
// per-user connection limit.
const maxConnsPerPool = 8

// x3Host is the Wikidata termstore cluster's well-known host, overridable
// via Config.TermstoreHost for tests and non-Toolforge deployments.
const x3Host = "wikidatawiki.analytics.db.svc.wikimedia.cloud"

// Broker owns one *sql.DB per logical target (a replica wiki, or the X3
// termstore) and resolves credentials once at startup. The Driver owns
// the Broker; sources only borrow it.
type Broker struct {
	cfg   Config
	id    string
	mu    sync.Mutex
	pools map[string]*sql.DB

	retries prometheus.Counter
	inUse   *prometheus.GaugeVec
}

// New resolves credentials and returns a Broker, or ErrCredential if none
// can be found.
func New(cfg Config) (*Broker, error) {
	if _, err := resolveCredentials(cfg.ReplicaUser, cfg.ReplicaPassword); err != nil {
		return nil, err
	}
	return &Broker{
		cfg:   cfg,
		id:    uuid.NewString(),
		pools: make(map[string]*sql.DB),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "petscango",
			Name:      "broker_retry_total",
			Help:      "Number of transient connection retries issued by the broker.",
		}),
		inUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "petscango",
			Name:      "broker_pool_in_use",
			Help:      "Connections currently checked out, by logical target.",
		}, []string{"target"}),
	}, nil
}

// Describe/Collect let callers register Broker directly with a Prometheus
// registry (cmd/petscango does this for /metrics).
func (b *Broker) Describe(ch chan<- *prometheus.Desc) {
	b.retries.Describe(ch)
	b.inUse.Describe(ch)
}

func (b *Broker) Collect(ch chan<- prometheus.Metric) {
	b.retries.Collect(ch)
	b.inUse.Collect(ch)
}

// RecordRetry increments the retry counter; used by internal/sqlbatch so
// retry telemetry lives in one place.
func (b *Broker) RecordRetry() { b.retries.Inc() }

// ID returns this broker instance's correlation id, included in log lines
// so concurrent broker instances in the same process stay distinguishable.
func (b *Broker) ID() string { return b.id }

// Conn is the subset of *sql.Conn this package and internal/sqlbatch use.
// Defining our own narrow interface lets Replica/Termstore decorate
// Close() without exposing every method of *sql.Conn.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Close() error
}

// Replica returns a connection to wiki's replica database, with `USE
// <wiki>_p;` already issued (and, for commonswiki, group_concat_max_len
// raised for the session). Callers must Close() the returned
// connection to release it back to the pool.
func (b *Broker) Replica(ctx context.Context, wiki string) (Conn, error) {
	db, err := b.pool(wiki, b.replicaDSN(wiki))
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker: acquiring connection for %s: %w", wiki, err)
	}
	b.inUse.WithLabelValues(wiki).Inc()

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("USE `%s_p`;", wiki)); err != nil {
		conn.Close()
		b.inUse.WithLabelValues(wiki).Dec()
		return nil, fmt.Errorf("broker: selecting database for %s: %w", wiki, err)
	}
	if wiki == "commonswiki" {
		if _, err := conn.ExecContext(ctx, "SET SESSION group_concat_max_len = 1000000000;"); err != nil {
			conn.Close()
			b.inUse.WithLabelValues(wiki).Dec()
			return nil, fmt.Errorf("broker: setting group_concat_max_len: %w", err)
		}
	}
	return &wrappedConn{Conn: conn, onClose: func() { b.inUse.WithLabelValues(wiki).Dec() }}, nil
}

// ToolConn extends Conn with QueryRowContext, needed by internal/tooldb's
// single-row PSID lookups.
type ToolConn interface {
	Conn
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ToolDatabase returns a connection to the auxiliary tool database holding
// the query/started_queries tables.
func (b *Broker) ToolDatabase(ctx context.Context) (ToolConn, error) {
	host := b.cfg.ToolDatabaseHost
	if host == "" {
		host = "tools.db.svc.wikimedia.cloud"
	}
	user := b.cfg.ToolDatabaseUser
	pass := b.cfg.ToolDatabasePass
	if user == "" {
		creds, err := resolveCredentials(b.cfg.ReplicaUser, b.cfg.ReplicaPassword)
		if err != nil {
			return nil, err
		}
		user, pass = creds.User, creds.Password
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:3306)/s53317__petscan?parseTime=true&timeout=30s", user, pass, host)

	db, err := b.pool("tooldb", dsn)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker: acquiring tool database connection: %w", err)
	}
	b.inUse.WithLabelValues("tooldb").Inc()
	return &wrappedConn{Conn: conn, onClose: func() { b.inUse.WithLabelValues("tooldb").Dec() }}, nil
}

// Termstore returns a connection to the X3 cluster hosting wbt_* tables.
func (b *Broker) Termstore(ctx context.Context) (Conn, error) {
	host := b.cfg.TermstoreHost
	if host == "" {
		host = x3Host
	}
	db, err := b.pool("x3", b.dsnFor(host, "wikidatawiki"))
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker: acquiring termstore connection: %w", err)
	}
	b.inUse.WithLabelValues("x3").Inc()
	if _, err := conn.ExecContext(ctx, "USE `wikidatawiki_p`;"); err != nil {
		conn.Close()
		b.inUse.WithLabelValues("x3").Dec()
		return nil, fmt.Errorf("broker: selecting termstore database: %w", err)
	}
	return &wrappedConn{Conn: conn, onClose: func() { b.inUse.WithLabelValues("x3").Dec() }}, nil
}

// replicaDSN computes the DSN for a wiki's replica host, unless
// Config.ReplicaHostTemplate was overridden.
func (b *Broker) replicaDSN(wiki string) string {
	tmpl := b.cfg.ReplicaHostTemplate
	if tmpl == "" {
		tmpl = "%s.analytics.db.svc.wikimedia.cloud"
	}
	return b.dsnFor(fmt.Sprintf(tmpl, wiki), wiki)
}

func (b *Broker) dsnFor(host, wiki string) string {
	creds, err := resolveCredentials(b.cfg.ReplicaUser, b.cfg.ReplicaPassword)
	if err != nil {
		// New() already validated this path; a change of filesystem state
		// mid-run degrades to an empty DSN, which the driver will reject.
		return ""
	}
	return fmt.Sprintf("%s:%s@tcp(%s:3306)/%s_p?parseTime=true&timeout=30s", creds.User, creds.Password, host, wiki)
}

// pool returns the *sql.DB for a logical target, creating and capping it
// on first use.
func (b *Broker) pool(target, dsn string) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if db, ok := b.pools[target]; ok {
		return db, nil
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("broker: opening pool for %s: %w", target, err)
	}
	db.SetMaxOpenConns(maxConnsPerPool)
	db.SetConnMaxIdleTime(idleConnTTL)
	b.pools[target] = db
	return db, nil
}

// Close releases every pool. Safe to call once at process shutdown.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, db := range b.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// wrappedConn decrements the in-use gauge on Close, alongside the
// underlying *sql.Conn's own release back to the pool.
type wrappedConn struct {
	*sql.Conn
	onClose func()
	closed  bool
}

func (c *wrappedConn) Close() error {
	if !c.closed {
		c.closed = true
		c.onClose()
	}
	return c.Conn.Close()
}
