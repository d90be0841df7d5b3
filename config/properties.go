// Package config loads named-pool configuration from a .properties
// file, the Go analogue of the original's java.util.Properties-driven
// ConnectionPoolManager setup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dryyun/dbpool/dbconn"
	"github.com/dryyun/dbpool/objpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PoolSpec is one named pool's configuration, as read from the
// properties file before decoder/validator names are resolved to
// implementations.
type PoolSpec struct {
	Name string

	URL      string
	User     string
	Password string
	Props    map[string]string

	// Driver overrides the top-level drivers list for this pool alone.
	// Empty means "use the first entry of File.Drivers", matching a
	// single-driver deployment; multi-driver deployments should set
	// this per pool since database/sql has no URL-sniffing equivalent
	// of JDBC's DriverManager.
	Driver string

	MaxPool int
	MaxConn int
	Init    int
	Expiry  time.Duration

	ValidatorName string
	DecoderName   string

	Cache bool
	Async bool
	Debug bool

	LogFile    string
	DateFormat string
}

// File is the parsed form of an entire properties file: the top-level
// options plus one PoolSpec per pool name found under a
// "pool.<name>." prefix.
type File struct {
	Drivers    []string
	LogFile    string
	DateFormat string
	Pools      map[string]PoolSpec
}

// Load reads and parses a .properties file at path.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return parse(v)
}

func parse(v *viper.Viper) (*File, error) {
	f := &File{
		Drivers:    splitDriverList(v.GetString("drivers")),
		LogFile:    v.GetString("logfile"),
		DateFormat: v.GetString("dateformat"),
		Pools:      make(map[string]PoolSpec),
	}

	names := make(map[string]struct{})
	for _, key := range v.AllKeys() {
		if !strings.HasPrefix(key, "pool.") {
			continue
		}
		rest := strings.TrimPrefix(key, "pool.")
		name := rest[:strings.IndexByte(rest, '.')]
		names[name] = struct{}{}
	}

	for name := range names {
		prefix := "pool." + name + "."
		spec := PoolSpec{
			Name:          name,
			URL:           v.GetString(prefix + "url"),
			Driver:        v.GetString(prefix + "driver"),
			User:          v.GetString(prefix + "user"),
			Password:      v.GetString(prefix + "password"),
			MaxPool:       v.GetInt(prefix + "maxpool"),
			MaxConn:       v.GetInt(prefix + "maxconn"),
			Init:          v.GetInt(prefix + "init"),
			Expiry:        time.Duration(v.GetInt(prefix+"expiry")) * time.Second,
			ValidatorName: v.GetString(prefix + "validator"),
			DecoderName:   v.GetString(prefix + "decoder"),
			Cache:         v.GetBool(prefix + "cache"),
			Async:         v.GetBool(prefix + "async"),
			Debug:         v.GetBool(prefix + "debug"),
			LogFile:       v.GetString(prefix + "logfile"),
			DateFormat:    v.GetString(prefix + "dateformat"),
		}
		if !v.IsSet(prefix + "cache") {
			spec.Cache = true
		}
		propPrefix := prefix + "prop."
		for _, key := range v.AllKeys() {
			if strings.HasPrefix(key, propPrefix) {
				if spec.Props == nil {
					spec.Props = make(map[string]string)
				}
				spec.Props[strings.TrimPrefix(key, propPrefix)] = v.GetString(key)
			}
		}
		if spec.URL == "" {
			return nil, fmt.Errorf("config: pool %q is missing a url", name)
		}
		f.Pools[name] = spec
	}
	return f, nil
}

func splitDriverList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ToDBConnConfig resolves spec's decoder/validator names to concrete
// implementations and builds the dbconn.Config the pool manager hands
// to dbconn.New. driverName is supplied separately because the caller
// resolves it, from spec.Driver or else from the top-level drivers
// list shared across pools.
func (spec PoolSpec) ToDBConnConfig(driverName string, builder dbconn.DSNBuilder, logger *zap.Logger) (dbconn.Config, error) {
	decoder, err := ResolveDecoder(spec.DecoderName)
	if err != nil {
		return dbconn.Config{}, err
	}
	validator, err := ResolveValidator(spec.ValidatorName)
	if err != nil {
		return dbconn.Config{}, err
	}

	maxPool := spec.MaxPool
	maxConn := spec.MaxConn
	if maxConn > 0 && maxConn < maxPool {
		maxConn = maxPool
	}

	return dbconn.Config{
		DriverName:    driverName,
		URL:           spec.URL,
		User:          spec.User,
		Password:      spec.Password,
		Properties:    spec.Props,
		Decoder:       decoder,
		DSNBuilder:    builder,
		Validator:     validator,
		CacheSimple:   spec.Cache,
		CachePrepared: spec.Cache,
		CacheCallable: spec.Cache,
		PoolSize:      maxPool,
		MaxSize:       maxConn,
		Expiry:        spec.Expiry,
		Access:        objpool.LIFO,
		AsyncDestroy:  spec.Async,
		Logger:        logger,
	}, nil
}
