// Package statedb persists the handful of facts that must survive a
// sysd restart: timer last-fire stamps (for Persistent= catch-up,
// spec.md §4.2), DynamicUser= uid/gid allocations (spec.md §4.3, so a
// restarted unit keeps the same synthesized identity), and the FD
// store's descriptor bookkeeping.
//
// Grounded on the teacher's core/snapshots/storage/bolt.go: one
// go.etcd.io/bbolt database, one top-level bucket per entity kind, and
// helper functions that open/create the bucket before doing anything,
// the same shape as that file's withBucket/withSnapshotBucket.
package statedb

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTimers       = []byte("timers")
	bucketDynamicUsers = []byte("dynamic-users")
	bucketFDStore      = []byte("fdstore")
)

// Store is the on-disk handle; one per daemon instance, closed on
// shutdown.
type Store struct {
	db *bolt.DB
}

// Open creates (if needed) and opens the bbolt database at path,
// ensuring every top-level bucket this package uses exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("statedb: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTimers, bucketDynamicUsers, bucketFDStore} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LastFire returns the last recorded fire time for a timer unit, or
// the zero time if none has been recorded yet.
func (s *Store) LastFire(unitName string) (time.Time, error) {
	var t time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTimers).Get([]byte(unitName))
		if v == nil {
			return nil
		}
		ns, _ := binary.Varint(v)
		t = time.Unix(0, ns)
		return nil
	})
	return t, err
}

// SetLastFire records that unitName's timer fired at when.
func (s *Store) SetLastFire(unitName string, when time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, binary.MaxVarintLen64)
		n := binary.PutVarint(buf, when.UnixNano())
		return tx.Bucket(bucketTimers).Put([]byte(unitName), buf[:n])
	})
}

// DynamicUser is one allocated uid/gid pair for a DynamicUser=yes unit.
type DynamicUser struct {
	UID uint32
	GID uint32
}

// AllocateDynamicUser returns the previously allocated uid/gid for
// unitName, or allocates the next free one in [rangeLo, rangeHi] and
// persists it, matching systemd's own behavior of keeping a
// DynamicUser= unit's identity stable across restarts.
func (s *Store) AllocateDynamicUser(unitName string, rangeLo, rangeHi uint32) (DynamicUser, error) {
	var du DynamicUser
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDynamicUsers)
		if v := bkt.Get([]byte(unitName)); v != nil {
			du = decodeDynamicUser(v)
			return nil
		}

		used := map[uint32]bool{}
		c := bkt.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			used[decodeDynamicUser(v).UID] = true
		}
		for uid := rangeLo; uid <= rangeHi; uid++ {
			if !used[uid] {
				du = DynamicUser{UID: uid, GID: uid}
				return bkt.Put([]byte(unitName), encodeDynamicUser(du))
			}
		}
		return fmt.Errorf("statedb: dynamic user range exhausted")
	})
	return du, err
}

// ReleaseDynamicUser frees unitName's allocation so its uid can be
// handed to another unit. The daemon does not call it when a unit is
// stopped or unloaded, so allocations otherwise persist (systemd's own
// default).
func (s *Store) ReleaseDynamicUser(unitName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDynamicUsers).Delete([]byte(unitName))
	})
}

func encodeDynamicUser(du DynamicUser) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], du.UID)
	binary.BigEndian.PutUint32(b[4:8], du.GID)
	return b
}

func decodeDynamicUser(b []byte) DynamicUser {
	if len(b) < 8 {
		return DynamicUser{}
	}
	return DynamicUser{
		UID: binary.BigEndian.Uint32(b[0:4]),
		GID: binary.BigEndian.Uint32(b[4:8]),
	}
}

// StoreFD records one FileDescriptorStoreMax= entry name against its
// unit, so the daemon can reassociate passed descriptors after its own
// restart (spec.md §4.2 fd store). The descriptor itself never crosses
// a sysd restart (Go processes can't persist open fds), so this only
// tracks the name/count bookkeeping needed to reject duplicates.
func (s *Store) StoreFD(unitName, fdName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.Bucket(bucketFDStore).CreateBucketIfNotExists([]byte(unitName))
		if err != nil {
			return err
		}
		return bkt.Put([]byte(fdName), []byte{1})
	})
}

func (s *Store) FDNames(unitName string) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketFDStore).Bucket([]byte(unitName))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}
