//go:build integration

package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/dronenet-go/internal/conf"
)

func TestMySQLStoreIntegration(t *testing.T) {
	ctx := t.Context()
	container, err := tcmysql.Run(ctx, "mysql:8.4",
		tcmysql.WithDatabase("dronenet"),
		tcmysql.WithUsername("dronenet"),
		tcmysql.WithPassword("dronenet"),
	)
	if err != nil {
		t.Skipf("mysql container unavailable: %v", err)
	}
	t.Cleanup(func() { assert.NoError(t, testcontainers.TerminateContainer(container)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	store, err := New(&conf.DatastoreSettings{
		Type: "mysql",
		MySQL: conf.MySQLSettings{
			Host:     host,
			Port:     port.Int(),
			Username: "dronenet",
			Password: "dronenet",
			Database: "dronenet",
		},
	}, true)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	defer store.Close()

	ts := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.SaveTrackPoint(ctx, &TrackPoint{Timestamp: ts, X: 7}))

	points, err := store.RecentTrackPoints(ctx, 1)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 7.0, points[0].X, 1e-12)
	assert.True(t, points[0].Timestamp.Equal(ts))
}
