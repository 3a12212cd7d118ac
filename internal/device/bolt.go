package device

import (
	"encoding/binary"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var blocksBucket = []byte("blocks")

// BoltDevice simulates a block device on top of a go.etcd.io/bbolt
// database, one key-value pair per device block (big-endian block index ->
// exactly BlockSize() bytes). It is grounded on
// operator-framework/operator-registry's pkg/boltdb usage of bbolt as an
// embedded, transactional key-value store; here it stands in for a disk so
// every package's tests (and the daemon's memory mode, selected by the
// Memory config option) can exercise
// the full read/write path without a real device file.
type BoltDevice struct {
	db        *bolt.DB
	blockSize int
	sizeBlks  int64
}

// OpenBoltDevice opens (creating if necessary) a bbolt file at path and
// presents it as a device of sizeBlocks blocks of blockSize bytes each,
// initialized to all zero on first creation.
func OpenBoltDevice(path string, blockSize int, sizeBlocks int64) (*BoltDevice, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "device: open bolt device %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "device: init bolt bucket")
	}
	return &BoltDevice{db: db, blockSize: blockSize, sizeBlks: sizeBlocks}, nil
}

func keyOf(devBlock int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(devBlock))
	return k[:]
}

func (d *BoltDevice) ReadAt(devBlock int64, buf []byte) error {
	return d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(blocksBucket)
		nblks := len(buf) / d.blockSize
		for i := 0; i < nblks; i++ {
			v := b.Get(keyOf(devBlock + int64(i)))
			dst := buf[i*d.blockSize : (i+1)*d.blockSize]
			if v == nil {
				for j := range dst {
					dst[j] = 0
				}
				continue
			}
			copy(dst, v)
		}
		return nil
	})
}

func (d *BoltDevice) WriteAt(devBlock int64, buf []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(blocksBucket)
		nblks := len(buf) / d.blockSize
		for i := 0; i < nblks; i++ {
			src := buf[i*d.blockSize : (i+1)*d.blockSize]
			cp := make([]byte, d.blockSize)
			copy(cp, src)
			if err := b.Put(keyOf(devBlock+int64(i)), cp); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *BoltDevice) Size() int64    { return d.sizeBlks }
func (d *BoltDevice) BlockSize() int { return d.blockSize }
func (d *BoltDevice) Close() error   { return d.db.Close() }
