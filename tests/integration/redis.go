package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	redisContainer     testcontainers.Container
	redisContainerMu   sync.Mutex
	redisContainerAddr string
)

// NewTestRedis returns a client on the package's Redis container with an
// empty keyspace. The container is started on first use.
func NewTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisContainerMu.Lock()
	defer redisContainerMu.Unlock()

	ctx := context.Background()
	if redisContainer == nil {
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor: wait.ForLog("Ready to accept connections").
					WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		require.NoError(t, err, "Failed to start Redis container")

		addr, err := container.Endpoint(ctx, "")
		require.NoError(t, err, "Failed to get Redis endpoint")

		redisContainer = container
		redisContainerAddr = addr
	}

	client := redis.NewClient(&redis.Options{Addr: redisContainerAddr})
	require.NoError(t, client.FlushDB(ctx).Err(), "Failed to flush Redis")
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

// TerminateRedisContainer stops the container started by NewTestRedis
func TerminateRedisContainer() {
	redisContainerMu.Lock()
	defer redisContainerMu.Unlock()

	if redisContainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = redisContainer.Terminate(ctx)
		redisContainer = nil
		redisContainerAddr = ""
	}
}
