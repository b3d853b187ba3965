// Package state persists the admin session credentials in a bbolt file so
// a login survives between CLI invocations.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Campus-Dev-Team/adminCamperStories/internal/errors"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	sessionBucket = []byte("session")
	tokenKey      = []byte("token")
	userKey       = []byte("user")
)

// storedToken is the on-disk form of the token key. ExpiresAt is an epoch
// millisecond deadline, 0 when unknown.
type storedToken struct {
	Token        string `json:"token"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// State wraps a bbolt database holding the credential record.
type State struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Load opens the state database at the default location
// (~/.camperstories-admin/state.db).
func Load(logger *slog.Logger) (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path, logger)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist.
func LoadAt(path string, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Set persists the credential record, replacing any previous one. Both keys
// are written in one transaction.
func (s *State) Set(rec models.CredentialRecord) error {
	if rec.Token == "" {
		return fmt.Errorf("credential record requires a token")
	}

	st := storedToken{Token: rec.Token, RefreshToken: rec.RefreshToken}
	if !rec.ExpiresAt.IsZero() {
		st.ExpiresAt = rec.ExpiresAt.UnixMilli()
	}

	tokenData, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	userData, err := json.Marshal(rec.User)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if err := b.Put(tokenKey, tokenData); err != nil {
			return err
		}

		return b.Put(userKey, userData)
	})
}

// Get returns the stored credential record, or nil when there is none.
// A record that cannot be decoded is deleted and reported as absent, so a
// corrupted file never blocks startup.
func (s *State) Get() *models.CredentialRecord {
	var (
		rawToken []byte
		rawUser  []byte
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		// Values are only valid inside the transaction.
		if v := b.Get(tokenKey); v != nil {
			rawToken = append([]byte(nil), v...)
		}

		if v := b.Get(userKey); v != nil {
			rawUser = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		s.logger.Warn("reading credentials", slog.String("error", err.Error()))
		return nil
	}

	if rawToken == nil && rawUser == nil {
		return nil
	}

	rec, err := decodeRecord(rawToken, rawUser)
	if err != nil {
		s.logger.Warn("discarding stored credentials", slog.String("reason", err.Error()))

		if cerr := s.Clear(); cerr != nil {
			s.logger.Warn("clearing corrupted credentials", slog.String("error", cerr.Error()))
		}

		return nil
	}

	return rec
}

// Clear deletes both credential keys in a single transaction.
func (s *State) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if err := b.Delete(tokenKey); err != nil {
			return err
		}

		return b.Delete(userKey)
	})
}

func decodeRecord(rawToken, rawUser []byte) (*models.CredentialRecord, error) {
	if rawToken == nil || rawUser == nil {
		return nil, fmt.Errorf("%w: incomplete record", apperrors.ErrStorageCorruption)
	}

	var st storedToken
	if err := json.Unmarshal(rawToken, &st); err != nil {
		return nil, fmt.Errorf("%w: decoding token: %w", apperrors.ErrStorageCorruption, err)
	}

	if st.Token == "" {
		return nil, fmt.Errorf("%w: empty token", apperrors.ErrStorageCorruption)
	}

	var user models.UserSnapshot
	if err := json.Unmarshal(rawUser, &user); err != nil {
		return nil, fmt.Errorf("%w: decoding user: %w", apperrors.ErrStorageCorruption, err)
	}

	rec := &models.CredentialRecord{
		Token:        st.Token,
		RefreshToken: st.RefreshToken,
		User:         user,
	}
	if st.ExpiresAt > 0 {
		rec.ExpiresAt = time.UnixMilli(st.ExpiresAt)
	}

	return rec, nil
}

// DefaultPath returns ~/.camperstories-admin/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".camperstories-admin", "state.db"), nil
}
