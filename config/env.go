package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const envPrefix = "RENDEZVOUS_"

// FromEnv loads the given dotenv files, or ./.env when present, and builds
// a Config from RENDEZVOUS_* variables. Variables already set in the
// process environment win over file contents.
func FromEnv(files ...string) (*Config, error) {
	err := godotenv.Load(files...)
	if err != nil {
		if len(files) != 0 || !errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("failed to load env files %v, err=%w", files, err)
			log.Printf("%s", err.Error())
			return nil, err
		}
	}

	c := &Config{
		AppID:          os.Getenv(envPrefix + "APP_ID"),
		Address:        os.Getenv(envPrefix + "ADDRESS"),
		MetricsAddress: os.Getenv(envPrefix + "METRICS_ADDRESS"),
		LogPrefix:      os.Getenv(envPrefix + "LOG_PREFIX"),
	}

	for _, field := range []struct {
		name string
		dst  *uint16
	}{
		{"EVENT_CHANNEL_LENGTH", &c.EventChannelLength},
		{"MAXIMUM_CONNECTIONS", &c.MaximumConnections},
		{"HANDSHAKE_TIMEOUT", &c.HandshakeTimeout},
		{"CONNECTION_TIMEOUT", &c.ConnectionTimeout},
		{"PING_INTERVAL", &c.PingInterval},
		{"PENDING_AUTH_TIMEOUT", &c.PendingAuthTimeout},
		{"ROOM_QUERY_RATE", &c.RoomQueryRate},
		{"ROOM_QUERY_BURST", &c.RoomQueryBurst},
	} {
		raw := os.Getenv(envPrefix + field.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			err = fmt.Errorf("invalid %s%s=%s, err=%w", envPrefix, field.name, raw, err)
			log.Printf("%s", err.Error())
			return nil, err
		}
		*field.dst = uint16(v)
	}

	raw := os.Getenv(envPrefix + "LOG_DEBUG")
	if raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			err = fmt.Errorf("invalid %sLOG_DEBUG=%s, err=%w", envPrefix, raw, err)
			log.Printf("%s", err.Error())
			return nil, err
		}
		c.LogDebug = v
	}

	return c, c.Validate()
}
