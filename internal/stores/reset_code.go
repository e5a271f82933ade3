package stores

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	codeRecordVersionV1 = 1
)

var (
	ErrCodeNotFound         = errors.New("reset code not found")
	ErrCodeMismatch         = errors.New("reset code mismatch")
	ErrCodeAttemptsExceeded = errors.New("reset code attempts exceeded")
	ErrCodeRedisUnavailable = errors.New("reset code redis unavailable")
)

// ResetCodeRecord is the stored form of an issued one-time passcode.
type ResetCodeRecord struct {
	Email     string
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
}

// ResetCodeStore keeps at most one live code per email. Saving a new code
// replaces the previous one and resets its attempt counter.
type ResetCodeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewResetCodeStore(redisClient redis.UniversalClient, prefix string) *ResetCodeStore {
	if prefix == "" {
		prefix = "arc"
	}
	return &ResetCodeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// HashCode returns the at-rest form of a passcode.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// NormalizeEmail lower-cases and trims email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *ResetCodeStore) key(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return s.prefix + ":" + hex.EncodeToString(sum[:16])
}

func (s *ResetCodeStore) Save(ctx context.Context, email string, codeHash [32]byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("reset code ttl must be > 0")
	}
	record := &ResetCodeRecord{
		Email:     NormalizeEmail(email),
		CodeHash:  codeHash,
		ExpiresAt: s.now().Add(ttl).Unix(),
	}
	encoded, err := encodeResetCodeRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(email), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}
	return nil
}

// Consume checks providedHash against the live code for email.
//
// A match deletes the record and returns it. A mismatch increments the
// attempt counter and returns ErrCodeMismatch; reaching maxAttempts deletes
// the record and returns ErrCodeAttemptsExceeded. Expired or missing codes
// return ErrCodeNotFound.
func (s *ResetCodeStore) Consume(ctx context.Context, email string, providedHash [32]byte, maxAttempts int) (*ResetCodeRecord, error) {
	const maxRetries = 4
	key := s.key(email)

	for i := 0; i < maxRetries; i++ {
		var matched *ResetCodeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeResetCodeRecord(data)
			if err != nil {
				return err
			}

			del := func() error {
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			now := s.now()
			if now.Unix() > record.ExpiresAt {
				if err := del(); err != nil {
					return err
				}
				return ErrCodeNotFound
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					if err := del(); err != nil {
						return err
					}
					return ErrCodeAttemptsExceeded
				}

				ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
				if ttl <= 0 {
					if err := del(); err != nil {
						return err
					}
					return ErrCodeNotFound
				}

				updated, err := encodeResetCodeRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrCodeMismatch
			}

			if err := del(); err != nil {
				return err
			}
			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrCodeNotFound
			case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeMismatch), errors.Is(err, ErrCodeAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, ErrCodeNotFound
}

func encodeResetCodeRecord(record *ResetCodeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(codeRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Email) > 65535 {
		return nil, errors.New("reset code record email too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Email))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Email)
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeResetCodeRecord(data []byte) (*ResetCodeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != codeRecordVersionV1 {
		return nil, errors.New("invalid reset code record version")
	}

	record := &ResetCodeRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var emailLen uint16
	if err := binary.Read(reader, binary.BigEndian, &emailLen); err != nil {
		return nil, err
	}
	email := make([]byte, emailLen)
	if _, err := io.ReadFull(reader, email); err != nil {
		return nil, err
	}
	record.Email = string(email)

	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
