// Package config loads the provider configuration from YAML. Values missing
// from the file keep their defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/steve-o/hitsuji/consts"
)

const (
	TransportInproc = "inproc"
	TransportNATS   = "nats"
)

type Config struct {
	Provider    Provider    `yaml:"provider"`
	Workers     Workers     `yaml:"workers"`
	Transport   Transport   `yaml:"transport"`
	TickStore   TickStore   `yaml:"tickstore"`
	Permissions Permissions `yaml:"permissions"`
	Admin       Admin       `yaml:"admin"`
}

type Provider struct {
	ServiceName     string `yaml:"service_name"`
	ServiceID       uint16 `yaml:"service_id"`
	Vendor          string `yaml:"vendor"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	MaxDataSize     int    `yaml:"max_data_size"`
	SessionCapacity int    `yaml:"session_capacity"`
}

func (p Provider) Addr() string { return net.JoinHostPort(p.Host, strconv.Itoa(p.Port)) }

type Workers struct {
	Count  int  `yaml:"count"`
	PinCPU bool `yaml:"pin_cpu"`
}

type Transport struct {
	Kind       string `yaml:"kind"`
	HighWater  int    `yaml:"high_water"`
	NATSURL    string `yaml:"nats_url"`
	NATSPrefix string `yaml:"nats_prefix"`
}

type TickStore struct {
	Path string `yaml:"path"`
}

type Permissions struct {
	File        string `yaml:"file"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Table       string `yaml:"table"`
	CacheSize   int    `yaml:"cache_size"`
}

type Admin struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

func Default() Config {
	return Config{
		Provider: Provider{
			ServiceName:     consts.DefaultServiceName,
			ServiceID:       consts.DefaultServiceID,
			Vendor:          consts.DefaultVendorName,
			Port:            consts.DefaultPort,
			MaxDataSize:     consts.DefaultMaxDataSize,
			SessionCapacity: consts.DefaultSessionCapacity,
		},
		Workers: Workers{Count: consts.DefaultWorkerCount},
		Transport: Transport{
			Kind:       TransportInproc,
			HighWater:  consts.DefaultQueueHighWater,
			NATSPrefix: consts.DefaultNATSPrefix,
		},
		Permissions: Permissions{Table: "permdata", CacheSize: 4096},
		Admin: Admin{
			HTTPAddr: consts.DefaultAdminAddr,
			GRPCAddr: consts.DefaultGRPCAddr,
		},
	}
}

// Parse decodes b over the defaults. Unknown keys are errors.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(b)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var err error
	if c.Provider.ServiceName == "" {
		err = multierr.Append(err, errors.New("provider.service_name is empty"))
	}
	if c.Provider.Port < 0 || c.Provider.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("provider.port %d out of range", c.Provider.Port))
	}
	if c.Provider.MaxDataSize < 256 {
		err = multierr.Append(err, fmt.Errorf("provider.max_data_size %d below 256", c.Provider.MaxDataSize))
	}
	if c.Provider.SessionCapacity < 0 {
		err = multierr.Append(err, fmt.Errorf("provider.session_capacity %d is negative", c.Provider.SessionCapacity))
	}
	if c.Workers.Count < 1 {
		err = multierr.Append(err, fmt.Errorf("workers.count %d below 1", c.Workers.Count))
	}
	switch c.Transport.Kind {
	case TransportInproc:
	case TransportNATS:
		if c.Transport.NATSURL == "" {
			err = multierr.Append(err, errors.New("transport.nats_url is required for nats"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("transport.kind %q is not inproc or nats", c.Transport.Kind))
	}
	if c.Transport.HighWater < 1 {
		err = multierr.Append(err, fmt.Errorf("transport.high_water %d below 1", c.Transport.HighWater))
	}
	if c.Permissions.File != "" && c.Permissions.PostgresDSN != "" {
		err = multierr.Append(err, errors.New("permissions.file and permissions.postgres_dsn are exclusive"))
	}
	return err
}
