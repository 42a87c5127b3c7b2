// Package registry persists the device inventory in a local bbolt file.
// Records are AES-256-GCM encrypted at rest because they carry PAN-OS API
// keys; the key file lives next to the database in the data dir.
//
// The scheduler and the API server share one registry file. Neither process
// holds the database open: every operation opens the file for a single
// transaction and closes it again, so bbolt's file lock serializes the
// scheduler's tick reads against the API server's admin writes instead of
// whichever process starts first starving the other.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/panfm/panfm/pkg/security"
	"github.com/panfm/panfm/pkg/types"
)

var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device not found")
	// ErrDeviceLimit is returned when enabling a device would exceed the
	// edition's enabled-device cap.
	ErrDeviceLimit = errors.New("enabled device limit reached")
)

var bucketDevices = []byte("devices")

// openTimeout bounds the wait for the file lock when the other process is
// mid-transaction. Transactions here touch at most a few hundred small
// records, so a healthy peer releases the lock within milliseconds.
const openTimeout = 5 * time.Second

// Registry is the encrypted device store.
type Registry struct {
	path       string
	cipher     *security.Cipher
	maxEnabled int // 0 means unlimited
}

// Open prepares registry.db in the data dir, creating the file and its
// devices bucket on first run. maxEnabled of 0 disables the enabled-device
// cap.
func Open(dataDir string, cipher *security.Cipher, maxEnabled int) (*Registry, error) {
	r := &Registry{
		path:       filepath.Join(dataDir, "registry.db"),
		cipher:     cipher,
		maxEnabled: maxEnabled,
	}

	db, err := bolt.Open(r.path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDevices)
		return err
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create devices bucket: %w", err)
	}
	return r, nil
}

// withBucket opens the registry file, runs fn on the devices bucket inside
// a single transaction, and closes the handle again.
func (r *Registry) withBucket(writable bool, fn func(b *bolt.Bucket) error) error {
	db, err := bolt.Open(r.path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer db.Close()

	run := db.View
	if writable {
		run = db.Update
	}
	return run(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return errors.New("registry devices bucket missing")
		}
		return fn(b)
	})
}

// Create stores a new device. A missing ID is assigned; timestamps are set.
func (r *Registry) Create(device *types.Device) error {
	if err := validate(device); err != nil {
		return err
	}
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now

	return r.withBucket(true, func(b *bolt.Bucket) error {
		if b.Get([]byte(device.ID)) != nil {
			return fmt.Errorf("device already exists: %s", device.ID)
		}
		if device.Enabled {
			if err := r.checkLimit(b, device.ID); err != nil {
				return err
			}
		}
		return r.put(b, device)
	})
}

// Get returns one device with its API key decrypted.
func (r *Registry) Get(id string) (*types.Device, error) {
	var device *types.Device
	err := r.withBucket(false, func(b *bolt.Bucket) error {
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var err error
		device, err = r.decode(data)
		return err
	})
	return device, err
}

// List returns all devices sorted by name.
func (r *Registry) List() ([]*types.Device, error) {
	var devices []*types.Device
	err := r.withBucket(false, func(b *bolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			d, err := r.decode(v)
			if err != nil {
				return fmt.Errorf("device %s: %w", k, err)
			}
			devices = append(devices, d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// ListEnabled returns only devices currently enabled for collection.
func (r *Registry) ListEnabled() ([]*types.Device, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, d := range all {
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	return enabled, nil
}

// Update replaces an existing device record. CreatedAt is preserved.
func (r *Registry) Update(device *types.Device) error {
	if err := validate(device); err != nil {
		return err
	}
	return r.withBucket(true, func(b *bolt.Bucket) error {
		data := b.Get([]byte(device.ID))
		if data == nil {
			return ErrNotFound
		}
		prev, err := r.decode(data)
		if err != nil {
			return err
		}
		if device.Enabled && !prev.Enabled {
			if err := r.checkLimit(b, device.ID); err != nil {
				return err
			}
		}
		device.CreatedAt = prev.CreatedAt
		device.UpdatedAt = time.Now().UTC()
		return r.put(b, device)
	})
}

// Delete removes a device. Callers are expected to follow up with
// store.ClearDeviceData to drop its time series.
func (r *Registry) Delete(id string) error {
	return r.withBucket(true, func(b *bolt.Bucket) error {
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// Count returns total and enabled device counts.
func (r *Registry) Count() (total, enabled int, err error) {
	devices, err := r.List()
	if err != nil {
		return 0, 0, err
	}
	for _, d := range devices {
		if d.Enabled {
			enabled++
		}
	}
	return len(devices), enabled, nil
}

func (r *Registry) put(b *bolt.Bucket, device *types.Device) error {
	plain, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("encode device: %w", err)
	}
	sealed, err := r.cipher.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("encrypt device: %w", err)
	}
	return b.Put([]byte(device.ID), sealed)
}

func (r *Registry) decode(data []byte) (*types.Device, error) {
	plain, err := r.cipher.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("decrypt device: %w", err)
	}
	var d types.Device
	if err := json.Unmarshal(plain, &d); err != nil {
		return nil, fmt.Errorf("decode device: %w", err)
	}
	return &d, nil
}

// checkLimit counts enabled devices other than id inside the transaction.
func (r *Registry) checkLimit(b *bolt.Bucket, id string) error {
	if r.maxEnabled <= 0 {
		return nil
	}
	enabled := 0
	err := b.ForEach(func(k, v []byte) error {
		if string(k) == id {
			return nil
		}
		d, err := r.decode(v)
		if err != nil {
			return err
		}
		if d.Enabled {
			enabled++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if enabled >= r.maxEnabled {
		return fmt.Errorf("%w (max %d)", ErrDeviceLimit, r.maxEnabled)
	}
	return nil
}

func validate(device *types.Device) error {
	if device == nil {
		return fmt.Errorf("device cannot be nil")
	}
	if device.Name == "" {
		return fmt.Errorf("device name cannot be empty")
	}
	if device.Host == "" {
		return fmt.Errorf("device host cannot be empty")
	}
	if device.APIKey == "" {
		return fmt.Errorf("device api key cannot be empty")
	}
	return nil
}
