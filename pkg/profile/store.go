// Package profile persists named scan option presets. A preset pairs a
// name with the scan options and, optionally, the device it targets, so
// repeat jobs ("receipts", "duplex-contracts") run without re-entering
// settings.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/scan"
)

const (
	bucketName = "scan-profiles"
	metaBucket = "meta"

	defaultKey = "default-profile"
)

// ErrNotFound indicates no profile is saved under the requested name.
var ErrNotFound = errors.New("scan profile not found")

// ErrNoDefault indicates no default profile has been designated.
var ErrNoDefault = errors.New("no default scan profile set")

// Profile is one named scan preset.
type Profile struct {
	// Name is the unique preset name.
	Name string `json:"name"`

	// Options are the scan settings to apply.
	Options scan.Options `json:"options"`

	// Device pins the preset to a device. Empty ID means any device.
	Device scan.DeviceDescriptor `json:"device,omitempty"`

	// UpdatedAt is when the preset was last saved.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the persistence surface for scan presets.
type Store interface {
	// Save writes a profile, overwriting any existing one of that name.
	Save(p *Profile) error

	// Get retrieves a profile by name.
	Get(name string) (*Profile, error)

	// List returns all profiles.
	List() ([]*Profile, error)

	// Delete removes a profile by name. Deleting the default profile
	// clears the default designation.
	Delete(name string) error

	// SetDefault designates an existing profile as the default.
	SetDefault(name string) error

	// GetDefault returns the designated default profile.
	GetDefault() (*Profile, error)

	// Close closes the store.
	Close() error
}

// BoltStore implements Store on a bbolt database file.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// Open opens (or creates) a profile store at path.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening profile store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating profile bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Save writes a profile, overwriting any existing one of that name.
func (s *BoltStore) Save(p *Profile) error {
	if p.Name == "" {
		return errors.New("profile name is empty")
	}
	p.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshaling profile: %w", err)
		}
		return bucket.Put([]byte(p.Name), data)
	})
}

// Get retrieves a profile by name.
func (s *BoltStore) Get(name string) (*Profile, error) {
	var p *Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns all profiles in key order.
func (s *BoltStore) List() ([]*Profile, error) {
	profiles := make([]*Profile, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var p Profile
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshaling profile %q: %w", k, err)
			}
			profiles = append(profiles, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// Delete removes a profile by name. Deleting the default profile clears
// the default designation.
func (s *BoltStore) Delete(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		if string(meta.Get([]byte(defaultKey))) == name {
			if err := meta.Delete([]byte(defaultKey)); err != nil {
				return err
			}
		}
		return tx.Bucket([]byte(bucketName)).Delete([]byte(name))
	})
}

// SetDefault designates an existing profile as the default.
func (s *BoltStore) SetDefault(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketName)).Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(defaultKey), []byte(name))
	})
}

// GetDefault returns the designated default profile.
func (s *BoltStore) GetDefault() (*Profile, error) {
	var name string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(metaBucket)).Get([]byte(defaultKey))
		if data == nil {
			return ErrNoDefault
		}
		name = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(name)
}

// Close closes the store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
