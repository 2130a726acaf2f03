package pool

import (
	"context"
	"sync"

	"github.com/jackc/puddle/v2"
	"github.com/jmoiron/sqlx"
)

// Conn is a borrowed physical connection. Exactly one of Release or Destroy
// takes effect; later calls are ignored.
type Conn struct {
	*sqlx.Conn
	id   int64
	res  *puddle.Resource[*physicalConn]
	once sync.Once
}

// ID identifies the physical connection for the lifetime of its pool.
func (conn *Conn) ID() int64 {
	return conn.id
}

func (conn *Conn) Ping(ctx context.Context) error {
	return conn.PingContext(ctx)
}

func (conn *Conn) Release() {
	conn.once.Do(conn.res.Release)
}

func (conn *Conn) Destroy() {
	conn.once.Do(conn.res.Destroy)
}
