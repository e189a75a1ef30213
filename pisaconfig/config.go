// Copyright 2026 The pisa-watch Authors
// This file is part of the pisa-watch library.
//
// The pisa-watch library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The pisa-watch library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the pisa-watch library. If not, see <http://www.gnu.org/licenses/>.

// Package pisaconfig is the TOML configuration layer (spec.md §6's
// Configuration section: the constructor parameters each component
// needs), grounded on ranger's loadConfig/tomlSettings
// (cmd/ranger/config.go) and gen_config.go's "one struct per component,
// loaded by a single decoder" shape from node/sc.
package pisaconfig

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
)

// tomlSettings keeps TOML keys identical to the exported Go field names,
// the same convention ranger's config loader uses.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// Config is the full set of constructor parameters for a PISA
// watchtower process: BlockCache depth, Watcher confirmation thresholds,
// GasQueue sizing, and the RPC endpoints it dials.
type Config struct {
	// Chain connection.
	RPCEndpoint string
	ChainId     uint64

	// BlockCache / BlockProcessor.
	BlockCacheDepth uint64

	// Watcher.
	ConfirmationsBeforeResponse uint32
	ConfirmationsBeforeRemoval  uint32

	// GasQueue / MultiResponder.
	GasLimit           uint64
	ReplacementRatePct uint32
	MaxQueueDepth      uint32

	// Broadcast retry timing. Loaded and defaulted here; no component in
	// this module reads these fields.
	WaitTimeForNewBlock   uint32 // seconds
	WaitBlocksBeforeRetry uint32
	MaxBroadcastAttempts  uint32

	// Path to the signing key file; only the path is configured here,
	// read from the TOML file like the other fields.
	SigningKeyPath string
}

// Default returns the configuration baseline spec.md §5 names explicitly
// (the 120s / 20-block broadcast retry timing) plus reasonable
// values for the parameters the spec leaves to deployment.
func Default() Config {
	return Config{
		RPCEndpoint:                 "http://127.0.0.1:8545",
		ChainId:                     1,
		BlockCacheDepth:             200,
		ConfirmationsBeforeResponse: 4,
		ConfirmationsBeforeRemoval:  20,
		GasLimit:                    250_000,
		ReplacementRatePct:          13,
		MaxQueueDepth:               20,
		WaitTimeForNewBlock:         120,
		WaitBlocksBeforeRetry:       20,
		MaxBroadcastAttempts:        5,
	}
}

// Load reads a TOML file at path into a copy of Default, erroring on
// unknown fields the same way ranger's loadConfig does.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		var lineErr *toml.LineError
		if errors.As(err, &lineErr) {
			return cfg, fmt.Errorf("%s, %w", path, err)
		}
		return cfg, err
	}
	return cfg, nil
}

// Validate enforces the constructor invariants spec.md §4.5/§4.6 require
// before any component is built.
func (c Config) Validate() error {
	if c.ConfirmationsBeforeResponse == 0 {
		return errors.New("pisaconfig: ConfirmationsBeforeResponse must be >= 1")
	}
	if c.ConfirmationsBeforeResponse > c.ConfirmationsBeforeRemoval {
		return errors.New("pisaconfig: ConfirmationsBeforeResponse must be <= ConfirmationsBeforeRemoval")
	}
	if c.MaxQueueDepth == 0 {
		return errors.New("pisaconfig: MaxQueueDepth must be >= 1")
	}
	if c.BlockCacheDepth == 0 {
		return errors.New("pisaconfig: BlockCacheDepth must be >= 1")
	}
	return nil
}
