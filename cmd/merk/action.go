package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.dedis.ch/merk/cli"
	"go.dedis.ch/merk/core/merkdb"
	"golang.org/x/xerrors"
)

const chunkPrefix = "chunk-"

// action defines the actions of the commands. The writers are fields so that
// the tests can capture the output.
type action struct {
	printer io.Writer
	logs    io.Writer
}

func (a action) getAction(flags cli.Flags) error {
	return a.withStore(flags, false, func(db *merkdb.DB) error {
		key := flags.String("key")

		value, found, err := db.Get([]byte(key))
		if err != nil {
			return err
		}

		if !found {
			return xerrors.Errorf("key '%s' not found", key)
		}

		fmt.Fprintln(a.printer, string(value))

		return nil
	})
}

func (a action) putAction(flags cli.Flags) error {
	return a.withStore(flags, true, func(db *merkdb.DB) error {
		batch, err := db.Batch()
		if err != nil {
			return err
		}

		err = batch.Put([]byte(flags.String("key")), []byte(flags.String("value")))
		if err != nil {
			return err
		}

		err = batch.Commit()
		if err != nil {
			return err
		}

		return a.printRoot(db)
	})
}

func (a action) deleteAction(flags cli.Flags) error {
	return a.withStore(flags, false, func(db *merkdb.DB) error {
		batch, err := db.Batch()
		if err != nil {
			return err
		}

		err = batch.Delete([]byte(flags.String("key")))
		if err != nil {
			return err
		}

		err = batch.Commit()
		if err != nil {
			return err
		}

		return a.printRoot(db)
	})
}

func (a action) rootAction(flags cli.Flags) error {
	return a.withStore(flags, false, a.printRoot)
}

func (a action) proveAction(flags cli.Flags) error {
	return a.withStore(flags, false, func(db *merkdb.DB) error {
		proof, err := db.Prove(toBytes(flags.StringSlice("key"))...)
		if err != nil {
			return err
		}

		fmt.Fprintln(a.printer, hex.EncodeToString(proof))

		return nil
	})
}

// verifyAction checks a proof without opening any store. The scheme of the
// configuration is used to decode the proof.
func (a action) verifyAction(flags cli.Flags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	opts, err := cfg.options(a.logs)
	if err != nil {
		return err
	}

	root, err := hex.DecodeString(flags.String("root"))
	if err != nil {
		return xerrors.Errorf("invalid root: %v", err)
	}

	proof, err := hex.DecodeString(flags.String("proof"))
	if err != nil {
		return xerrors.Errorf("invalid proof: %v", err)
	}

	keys := flags.StringSlice("key")

	values, err := merkdb.VerifyProof(proof, root, toBytes(keys), opts...)
	if err != nil {
		return xerrors.Errorf("proof rejected: %w", err)
	}

	for _, key := range keys {
		value := values[key]
		if value == nil {
			fmt.Fprintf(a.printer, "%s: absent\n", key)
		} else {
			fmt.Fprintf(a.printer, "%s: %s\n", key, value)
		}
	}

	return nil
}

func (a action) checkpointAction(flags cli.Flags) error {
	return a.withStore(flags, false, func(db *merkdb.DB) error {
		return db.Checkpoint(flags.Path("out"))
	})
}

// exportAction writes every chunk of the store in its own file of the output
// directory, then prints the root and the number of chunks which are the
// arguments of a restore.
func (a action) exportAction(flags cli.Flags) error {
	return a.withStore(flags, false, func(db *merkdb.DB) error {
		dir := flags.Path("out")

		err := os.MkdirAll(dir, 0o755)
		if err != nil {
			return xerrors.Errorf("failed to create directory: %v", err)
		}

		producer, err := db.Chunks()
		if err != nil {
			return err
		}

		count, err := producer.Len()
		if err != nil {
			return err
		}

		for i := 0; i < count; i++ {
			chunk, err := producer.Chunk(i)
			if err != nil {
				return err
			}

			err = os.WriteFile(chunkPath(dir, i), chunk, 0o644)
			if err != nil {
				return xerrors.Errorf("failed to write chunk %d: %v", i, err)
			}
		}

		root, err := db.RootHash()
		if err != nil {
			return err
		}

		fmt.Fprintf(a.printer, "root: %x\nchunks: %d\n", root, count)

		return nil
	})
}

// restoreAction rebuilds a store at the path of --db from the chunk files of
// an export.
func (a action) restoreAction(flags cli.Flags) error {
	cfg, opts, err := a.prepare(flags)
	if err != nil {
		return err
	}

	root, err := hex.DecodeString(flags.String("root"))
	if err != nil {
		return xerrors.Errorf("invalid root: %v", err)
	}

	count := flags.Int("count")

	restorer, err := merkdb.NewRestorer(cfg.DB, root, count, opts...)
	if err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		chunk, err := os.ReadFile(chunkPath(flags.Path("in"), i))
		if err != nil {
			restorer.Abort()

			return xerrors.Errorf("failed to read chunk %d: %v", i, err)
		}

		err = restorer.ProcessChunk(chunk)
		if err != nil {
			return err
		}

		remaining, _ := restorer.RemainingChunks()
		fmt.Fprintf(a.printer, "chunk %d processed, %d remaining\n", i, remaining)
	}

	db, err := restorer.Finalize()
	if err != nil {
		return err
	}

	err = a.printRoot(db)
	if err != nil {
		db.Close()
		return err
	}

	return db.Close()
}

func (a action) destroyAction(flags cli.Flags) error {
	cfg, opts, err := a.prepare(flags)
	if err != nil {
		return err
	}

	db, err := merkdb.Load(cfg.DB, opts...)
	if err != nil {
		return err
	}

	err = db.Destroy()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.printer, "store '%s' destroyed\n", cfg.DB)

	return nil
}

// withStore opens the store of the configuration, runs the function and closes
// the store. The store is created only when create is true.
func (a action) withStore(flags cli.Flags, create bool, fn func(*merkdb.DB) error) error {
	cfg, opts, err := a.prepare(flags)
	if err != nil {
		return err
	}

	var db *merkdb.DB
	if create {
		db, err = merkdb.Open(cfg.DB, opts...)
	} else {
		db, err = merkdb.Load(cfg.DB, opts...)
	}

	if err != nil {
		return err
	}

	err = fn(db)
	if err != nil {
		db.Close()
		return err
	}

	return db.Close()
}

func (a action) prepare(flags cli.Flags) (config, []merkdb.Option, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return cfg, nil, err
	}

	if cfg.DB == "" {
		return cfg, nil, xerrors.New("missing store path, use --db or the config file")
	}

	opts, err := cfg.options(a.logs)
	if err != nil {
		return cfg, nil, err
	}

	return cfg, opts, nil
}

func (a action) printRoot(db *merkdb.DB) error {
	root, err := db.RootHash()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.printer, "%x\n", root)

	return nil
}

func chunkPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d", chunkPrefix, index))
}

func toBytes(keys []string) [][]byte {
	res := make([][]byte, len(keys))
	for i, key := range keys {
		res[i] = []byte(key)
	}

	return res
}
