package trail

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/smallbiznis/claimwise/internal/audit/domain"
	"golang.org/x/crypto/hkdf"
)

const (
	minKeyLength   = 32
	encryptionInfo = "claimwise/audit/aes-256-gcm"
	chainInfo      = "claimwise/audit/hmac-sha256-chain"
)

// ParseKey decodes base64 key material. An empty value returns nil.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidKey, err)
	}
	if len(key) < minKeyLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", domain.ErrInvalidKey, minKeyLength)
	}
	return key, nil
}

// GenerateKey returns fresh random key material.
func GenerateKey() ([]byte, error) {
	key := make([]byte, minKeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Sealer encrypts entries and links them into an HMAC chain. Both keys are
// derived from one master key.
type Sealer struct {
	aead   cipher.AEAD
	macKey []byte
}

func NewSealer(master []byte) (*Sealer, error) {
	if len(master) < minKeyLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", domain.ErrInvalidKey, minKeyLength)
	}
	encKey, err := derive(master, encryptionInfo)
	if err != nil {
		return nil, err
	}
	macKey, err := derive(master, chainInfo)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead, macKey: macKey}, nil
}

func derive(master []byte, info string) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("derive %s: %w", info, err)
	}
	return out, nil
}

// Seal encrypts entry and chains it to prev.
func (s *Sealer) Seal(entry domain.Entry, prev []byte) (domain.Record, error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return domain.Record{}, err
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return domain.Record{}, err
	}
	rec := domain.Record{
		Sequence:   entry.Sequence,
		EntryID:    entry.ID,
		Nonce:      nonce,
		Ciphertext: s.aead.Seal(nil, nonce, plaintext, additionalData(entry.Sequence, entry.ID)),
		Prev:       append([]byte(nil), prev...),
		CreatedAt:  entry.Timestamp,
	}
	rec.Chain = s.chain(rec)
	return rec, nil
}

// Open decrypts a record. The sequence and entry id are authenticated.
func (s *Sealer) Open(rec domain.Record) (domain.Entry, error) {
	plaintext, err := s.aead.Open(nil, rec.Nonce, rec.Ciphertext, additionalData(rec.Sequence, rec.EntryID))
	if err != nil {
		return domain.Entry{}, fmt.Errorf("%w: sequence %d", domain.ErrUnsealFailed, rec.Sequence)
	}
	var entry domain.Entry
	if err := json.Unmarshal(plaintext, &entry); err != nil {
		return domain.Entry{}, fmt.Errorf("%w: sequence %d: %v", domain.ErrUnsealFailed, rec.Sequence, err)
	}
	return entry, nil
}

// Verify checks the record's own chain value.
func (s *Sealer) Verify(rec domain.Record) bool {
	return hmac.Equal(rec.Chain, s.chain(rec))
}

// VerifyChain checks every record and every link between neighbours.
func (s *Sealer) VerifyChain(recs []domain.Record) error {
	for i, rec := range recs {
		if !s.Verify(rec) {
			return fmt.Errorf("%w: sequence %d fails its hmac", domain.ErrChainBroken, rec.Sequence)
		}
		if i == 0 {
			continue
		}
		prev := recs[i-1]
		if rec.Sequence != prev.Sequence+1 || !hmac.Equal(rec.Prev, prev.Chain) {
			return fmt.Errorf("%w: sequence %d does not follow %d", domain.ErrChainBroken, rec.Sequence, prev.Sequence)
		}
	}
	return nil
}

func (s *Sealer) chain(rec domain.Record) []byte {
	mac := hmac.New(sha256.New, s.macKey)
	mac.Write(rec.Prev)
	mac.Write(additionalData(rec.Sequence, rec.EntryID))
	mac.Write(rec.Nonce)
	mac.Write(rec.Ciphertext)
	return mac.Sum(nil)
}

func additionalData(seq uint64, id string) []byte {
	out := binary.BigEndian.AppendUint64(nil, seq)
	return append(out, id...)
}
