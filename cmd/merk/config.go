package main

import (
	"encoding/hex"
	"io"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/merk"
	"go.dedis.ch/merk/cli"
	"go.dedis.ch/merk/core/merkdb"
	"go.dedis.ch/merk/core/store/hashtree/binprefix"
	"go.dedis.ch/merk/crypto"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// config is the content of the yaml file given with --config. Every field is
// optional.
//
//	db: /var/lib/merk/store
//	scheme: blake3
//	backend: leveldb
//	chunkdepth: 6
//	memdepth: 12
//	nonce: 0011223344556677
//	loglevel: debug
type config struct {
	DB         string `yaml:"db"`
	Scheme     string `yaml:"scheme"`
	Backend    string `yaml:"backend"`
	ChunkDepth int    `yaml:"chunkdepth"`
	MemDepth   *int   `yaml:"memdepth"`
	Nonce      string `yaml:"nonce"`
	LogLevel   string `yaml:"loglevel"`
}

// loadConfig reads the configuration file if one is provided and applies the
// command line overrides.
func loadConfig(flags cli.Flags) (config, error) {
	var cfg config

	path := flags.Path("config")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, xerrors.Errorf("failed to read config: %v", err)
		}

		err = yaml.Unmarshal(data, &cfg)
		if err != nil {
			return cfg, xerrors.Errorf("failed to parse config: %v", err)
		}
	}

	if flags.Path("db") != "" {
		cfg.DB = flags.Path("db")
	}

	return cfg, nil
}

// options translates the configuration into store options. Logs are written to
// the given writer.
func (c config) options(logs io.Writer) ([]merkdb.Option, error) {
	var opts []merkdb.Option

	if c.Scheme != "" {
		alg, err := crypto.ParseHashAlgorithm(c.Scheme)
		if err != nil {
			return nil, xerrors.Errorf("invalid scheme: %v", err)
		}

		opts = append(opts, merkdb.WithHashAlgorithm(alg))
	}

	backend, err := merkdb.ParseBackend(c.Backend)
	if err != nil {
		return nil, xerrors.Errorf("invalid backend: %v", err)
	}

	opts = append(opts, merkdb.WithBackend(backend))

	if c.ChunkDepth < 0 || c.ChunkDepth > math.MaxUint16 {
		return nil, xerrors.Errorf("invalid chunk depth %d", c.ChunkDepth)
	}

	if c.ChunkDepth > 0 {
		opts = append(opts, merkdb.WithChunkDepth(uint16(c.ChunkDepth)))
	}

	if c.MemDepth != nil {
		opts = append(opts, merkdb.WithMemDepth(*c.MemDepth))
	}

	if c.Nonce != "" {
		buf, err := hex.DecodeString(c.Nonce)
		if err != nil {
			return nil, xerrors.Errorf("invalid nonce: %v", err)
		}

		var nonce binprefix.Nonce
		if len(buf) != len(nonce) {
			return nil, xerrors.Errorf("invalid nonce: %d bytes while expecting %d",
				len(buf), len(nonce))
		}

		copy(nonce[:], buf)
		opts = append(opts, merkdb.WithNonce(nonce))
	}

	// The tool prints its results on the standard output, so the logs are
	// quiet unless asked otherwise.
	level := zerolog.WarnLevel
	if c.LogLevel != "" {
		level, err = zerolog.ParseLevel(c.LogLevel)
		if err != nil {
			return nil, xerrors.Errorf("invalid log level: %v", err)
		}
	}

	logger := merk.Logger.Output(zerolog.ConsoleWriter{
		Out:        logs,
		TimeFormat: time.RFC3339,
	}).Level(level)

	opts = append(opts, merkdb.WithLogger(logger))

	return opts, nil
}
