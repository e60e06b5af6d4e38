package kv

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// A store keeps an in-memory copy of its state in sync with the database by
// publishing it from the commit callback only. A failed update leaves the copy
// untouched.
func ExampleWritableTx_OnCommit() {
	dir, err := os.MkdirTemp(os.TempDir(), "example")
	if err != nil {
		panic("failed to create folder: " + err.Error())
	}

	defer os.RemoveAll(dir)

	db, err := New(filepath.Join(dir, "example.db"))
	if err != nil {
		panic("failed to open db: " + err.Error())
	}

	defer db.Close()

	generation := 0

	write := func(key, value string, fail bool) error {
		return db.Update(func(tx WritableTx) error {
			bucket, err := tx.GetBucketOrCreate([]byte("records"))
			if err != nil {
				return err
			}

			err = bucket.Set([]byte(key), []byte(value))
			if err != nil {
				return err
			}

			tx.OnCommit(func() {
				generation++
			})

			if fail {
				return xerrors.New("rejected")
			}

			return nil
		})
	}

	err = write("a", "1", false)
	fmt.Println(err, generation)

	err = write("b", "2", true)
	fmt.Println(err, generation)

	err = db.View(func(tx ReadableTx) error {
		return tx.GetBucket([]byte("records")).ForEach(func(key, value []byte) error {
			fmt.Printf("%s=%s\n", key, value)
			return nil
		})
	})
	if err != nil {
		panic("database read failed: " + err.Error())
	}

	// Output: <nil> 1
	// rejected 1
	// a=1
}

func ExampleBucket_Scan() {
	dir, err := os.MkdirTemp(os.TempDir(), "example")
	if err != nil {
		panic("failed to create folder: " + err.Error())
	}

	defer os.RemoveAll(dir)

	db, err := New(filepath.Join(dir, "example.db"))
	if err != nil {
		panic("failed to open db: " + err.Error())
	}

	defer db.Close()

	// Node records are indexed by depth then prefix.
	records := [][]byte{
		{2, 0b01},
		{1, 0b1},
		{2, 0b11},
		{1, 0b0},
	}

	err = db.Update(func(tx WritableTx) error {
		bucket, err := tx.GetBucketOrCreate([]byte("nodes"))
		if err != nil {
			return err
		}

		for _, key := range records {
			err = bucket.Set(key, []byte("node"))
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		panic("database write failed: " + err.Error())
	}

	err = db.View(func(tx ReadableTx) error {
		return tx.GetBucket([]byte("nodes")).Scan([]byte{2}, func(key, value []byte) error {
			fmt.Printf("depth %d prefix %02b\n", key[0], key[1])
			return nil
		})
	})
	if err != nil {
		panic("database read failed: " + err.Error())
	}

	// Output: depth 2 prefix 01
	// depth 2 prefix 11
}
