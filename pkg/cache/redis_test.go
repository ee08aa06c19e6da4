package cache

import (
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzac2cdo/roster-api/pkg/config"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "roster:personnel:list:abc", Key("personnel", "list", "abc"))
	assert.Equal(t, "roster:", Key())
}

func TestNewRedisPings(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(config.RedisConfig{Host: mr.Host(), Port: atoi(t, mr.Port())})
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	_, err = NewRedis(config.RedisConfig{Host: "127.0.0.1", Port: 1})
	assert.Error(t, err)
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}
