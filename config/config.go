package config

import (
	"fmt"
	"log"
	"time"
)

const (
	// defaults for when not provided in Config
	EventChannelLength uint16        = 1024
	MaximumConnections uint16        = 64
	HandshakeTimeout   time.Duration = time.Second * 15
	ConnectionTimeout  time.Duration = time.Second * 15
	PingInterval       time.Duration = time.Second * 5
)

type Config struct {
	// ALPN shared by every node of one application
	AppID string
	// UDP listen address, ":0" picks a free port
	Address            string
	EventChannelLength uint16
	MaximumConnections uint16

	// seconds
	HandshakeTimeout  uint16
	ConnectionTimeout uint16
	PingInterval      uint16
	// seconds a hosting peer keeps an unused join token, 0 keeps it until consumed
	PendingAuthTimeout uint16

	// GetRoom and GetRoomsPage requests per second per connection on the master, 0 is unlimited
	RoomQueryRate  uint16
	RoomQueryBurst uint16

	// empty disables the metrics endpoint
	MetricsAddress string

	LogPrefix string
	LogDebug  bool
}

func (c *Config) Validate() error {
	if c == nil {
		err := fmt.Errorf("nil config")
		log.Printf("%s", err.Error())
		return err
	}

	if c.AppID == "" {
		err := fmt.Errorf("invalid AppID=%s", c.AppID)
		log.Printf("%s", err.Error())
		return err
	}

	if c.Address == "" {
		err := fmt.Errorf("invalid Address=%s", c.Address)
		log.Printf("%s", err.Error())
		return err
	}

	if c.ConnectionTimeoutDuration() <= c.PingIntervalDuration() {
		err := fmt.Errorf(
			"invalid PingInterval=%d, must be below ConnectionTimeout=%d",
			c.PingInterval,
			c.ConnectionTimeout,
		)
		log.Printf("%s", err.Error())
		return err
	}

	if c.RoomQueryRate != 0 && c.RoomQueryBurst == 0 {
		err := fmt.Errorf("invalid RoomQueryBurst=%d for RoomQueryRate=%d", c.RoomQueryBurst, c.RoomQueryRate)
		log.Printf("%s", err.Error())
		return err
	}

	return nil
}

func seconds(v uint16, fallback time.Duration) time.Duration {
	if v == 0 {
		return fallback
	}
	return time.Second * time.Duration(v)
}

func (c *Config) HandshakeTimeoutDuration() time.Duration {
	return seconds(c.HandshakeTimeout, HandshakeTimeout)
}

func (c *Config) ConnectionTimeoutDuration() time.Duration {
	return seconds(c.ConnectionTimeout, ConnectionTimeout)
}

func (c *Config) PingIntervalDuration() time.Duration {
	return seconds(c.PingInterval, PingInterval)
}

func (c *Config) PendingAuthTimeoutDuration() time.Duration {
	return seconds(c.PendingAuthTimeout, 0)
}

func (c *Config) MaximumConnectionsOrDefault() uint16 {
	if c.MaximumConnections == 0 {
		return MaximumConnections
	}
	return c.MaximumConnections
}
