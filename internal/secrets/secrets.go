package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"gorm.io/gorm"

	"github.com/coveworks/memberd/internal/model"
)

var ErrSecretNotFound = errors.New("secret not found")

// Well-known secret names.
const (
	KeyProcessorAPI  = "processor_api_key"
	KeyGiftCode      = "gift_code_secret"
	KeyMaglock       = "maglock_key"
	KeyMemberCSV     = "member_csv_key"
	KeyDirectoryAPI  = "directory_api_secret"
	KeyPlanIDsPrefix = "plan_id."
)

// Store keeps named secrets in the database, sealed with AES-GCM under the
// master key from config.
type Store struct {
	db  *gorm.DB
	gcm cipher.AEAD
}

// NewStore builds a store. The master key must be 16, 24 or 32 bytes.
func NewStore(db *gorm.DB, masterKey string) (*Store, error) {
	block, err := aes.NewCipher([]byte(masterKey))
	if err != nil {
		return nil, fmt.Errorf("secrets: bad master key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, gcm: gcm}, nil
}

func (s *Store) Get(name string) (string, error) {
	var secret model.Secret
	err := s.db.Where("name = ?", name).First(&secret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", err
	}
	return s.open(secret.Value)
}

func (s *Store) Put(name, value string) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}

	var secret model.Secret
	err = s.db.Where("name = ?", name).First(&secret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&model.Secret{Name: name, Value: sealed}).Error
	}
	if err != nil {
		return err
	}
	secret.Value = sealed
	return s.db.Save(&secret).Error
}

func (s *Store) Delete(name string) error {
	return s.db.Where("name = ?", name).Delete(&model.Secret{}).Error
}

func (s *Store) List() ([]string, error) {
	var names []string
	err := s.db.Model(&model.Secret{}).Order("name ASC").Pluck("name", &names).Error
	return names, err
}

// PlanIDs collects all plan-id overrides, keyed by plan name.
func (s *Store) PlanIDs() (map[string]string, error) {
	var rows []model.Secret
	err := s.db.Where("name LIKE ?", KeyPlanIDsPrefix+"%").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	ids := make(map[string]string, len(rows))
	for _, row := range rows {
		value, err := s.open(row.Value)
		if err != nil {
			return nil, err
		}
		ids[row.Name[len(KeyPlanIDsPrefix):]] = value
	}
	return ids, nil
}

func (s *Store) seal(value string) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.gcm.Seal(nonce, nonce, []byte(value), nil), nil
}

func (s *Store) open(sealed []byte) (string, error) {
	if len(sealed) < s.gcm.NonceSize() {
		return "", errors.New("secrets: ciphertext too short")
	}
	nonce, ciphertext := sealed[:s.gcm.NonceSize()], sealed[s.gcm.NonceSize():]
	plain, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
