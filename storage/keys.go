package storage

import (
	"errors"
	"fmt"

	"github.com/vocdoni/davinci-ticketvote/encryption"
)

// SetEncryptionKeys stores the key pair of an election.
func (s *Storage) SetEncryptionKeys(electionID string, pk *encryption.PublicKey, sk *encryption.SecretKey) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.setArtifact(encryptionKeyPrefix, []byte(electionID), &EncryptionKeys{PublicKey: pk, SecretKey: sk})
}

// FetchOrGenerateEncryptionKeys loads the key pair of an election. If none
// is stored, generate is called and its keys are persisted. The secret key
// is nil for an election that was already tallied.
func (s *Storage) FetchOrGenerateEncryptionKeys(
	electionID string,
	generate func() (*encryption.PublicKey, *encryption.SecretKey, error),
) (*encryption.PublicKey, *encryption.SecretKey, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	keys, err := s.encryptionKeys(electionID)
	if err == nil {
		return keys.PublicKey, keys.SecretKey, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, nil, err
	}
	pk, sk, err := generate()
	if err != nil {
		return nil, nil, fmt.Errorf("could not generate encryption keys: %w", err)
	}
	if err := s.setArtifact(encryptionKeyPrefix, []byte(electionID), &EncryptionKeys{PublicKey: pk, SecretKey: sk}); err != nil {
		return nil, nil, fmt.Errorf("could not store encryption keys: %w", err)
	}
	return pk, sk, nil
}

// PublicKey returns the public key of an election.
func (s *Storage) PublicKey(electionID string) (*encryption.PublicKey, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	keys, err := s.encryptionKeys(electionID)
	if err != nil {
		return nil, err
	}
	return keys.PublicKey, nil
}

// SecretKey returns the secret key of an election, or ErrNotFound once it
// has been retired.
func (s *Storage) SecretKey(electionID string) (*encryption.SecretKey, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	keys, err := s.encryptionKeys(electionID)
	if err != nil {
		return nil, err
	}
	if keys.SecretKey == nil {
		return nil, ErrNotFound
	}
	return keys.SecretKey, nil
}

func (s *Storage) encryptionKeys(electionID string) (*EncryptionKeys, error) {
	keys := &EncryptionKeys{}
	if err := s.getArtifact(s.db, encryptionKeyPrefix, []byte(electionID), keys); err != nil {
		return nil, err
	}
	if keys.PublicKey == nil {
		return nil, fmt.Errorf("%w: encryption keys of %s without public key", ErrStorageCorrupt, electionID)
	}
	return keys, nil
}
