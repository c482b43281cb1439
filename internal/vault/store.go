package vault

import (
	"context"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
)

// HostPersister reads and writes the full host list as stored, passwords in their on-disk form
type HostPersister interface {
	ReadHosts(ctx context.Context) ([]models.HostRecord, error)
	WriteHosts(ctx context.Context, hosts []models.HostRecord) error
}

// Store is the credential store: it encrypts passwords on the way to the persister and
// decrypts them on the way back.
type Store struct {
	persister HostPersister
	cipher    *Cipher
	logger    *logging.Logger
}

// NewStore creates a credential store. The cipher must be built from the key before the store exists.
func NewStore(persister HostPersister, cipher *Cipher, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		persister: persister,
		cipher:    cipher,
		logger:    logger,
	}
}

// UseCipher switches the store to c for later loads and saves. It must not race with them.
func (s *Store) UseCipher(c *Cipher) {
	s.cipher = c
}

// Load returns every host with its password decrypted. A field that cannot be decrypted does
// not fail the load; see Cipher.DecryptField.
func (s *Store) Load(ctx context.Context) ([]models.HostRecord, error) {
	stored, err := s.persister.ReadHosts(ctx)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to read host list")
	}

	records := models.CloneHosts(stored)
	for i := range records {
		plaintext, state := s.cipher.DecryptField(records[i].Password)
		records[i].Password = plaintext

		switch state {
		case FieldPlaintext:
			if plaintext != "" {
				s.logger.WithField("host", records[i].Name).
					Debug("Stored password is legacy plaintext; it will be encrypted on next save")
			}
		case FieldUndecryptable:
			records[i].CredentialUnreadable = true
			s.logger.WithField("host", records[i].Name).
				Warn("Stored password does not decrypt with the current key; using the raw value")
		}
	}

	if records == nil {
		records = []models.HostRecord{}
	}
	return records, nil
}

// Save encrypts every password on a copy of records and writes the full list.
// Records flagged CredentialUnreadable keep their original ciphertext so restoring the right
// key still recovers them.
func (s *Store) Save(ctx context.Context, records []models.HostRecord) error {
	out := models.CloneHosts(records)
	if out == nil {
		out = []models.HostRecord{}
	}

	for i := range out {
		if out[i].CredentialUnreadable && IsEncryptedField(out[i].Password) {
			continue
		}

		encrypted, err := s.cipher.EncryptField(out[i].Password)
		if err != nil {
			return apperrors.WrapError(err, "failed to encrypt password for "+out[i].Name)
		}
		out[i].Password = encrypted
	}

	if err := s.persister.WriteHosts(ctx, out); err != nil {
		return apperrors.WrapError(err, "failed to write host list")
	}
	return nil
}

// Rekey re-encrypts the whole store under next. Passwords that could not be decrypted with the
// current key are reported and left as they are.
func (s *Store) Rekey(ctx context.Context, next *Cipher) (rekeyed int, skipped []string, err error) {
	records, err := s.Load(ctx)
	if err != nil {
		return 0, nil, err
	}

	for _, r := range records {
		if r.CredentialUnreadable {
			skipped = append(skipped, r.Name)
		}
	}

	target := NewStore(s.persister, next, s.logger)
	if err := target.Save(ctx, records); err != nil {
		return 0, skipped, err
	}
	return len(records) - len(skipped), skipped, nil
}
