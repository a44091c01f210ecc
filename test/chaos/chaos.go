package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend periodically kills one backend whose
// application_name matches appName, forcing the store through dropped
// connections and aborted transactions. It returns the number of kills.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, appName string, stop <-chan struct{}) int {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	kills := 0
	for {
		select {
		case <-ctx.Done():
			return kills
		case <-stop:
			return kills
		case <-ticker.C:
			if rand.Intn(5) != 0 {
				continue
			}
			var killed bool
			err := pool.QueryRow(ctx, `
SELECT COALESCE(bool_or(pg_terminate_backend(pid)), false)
FROM (
    SELECT pid FROM pg_stat_activity
    WHERE datname = current_database()
      AND application_name = $1
      AND pid <> pg_backend_pid()
    ORDER BY random()
    LIMIT 1
) victim`, appName).Scan(&killed)
			if err == nil && killed {
				kills++
			}
		}
	}
}
