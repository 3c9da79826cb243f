package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Snowflake ID generator
// ============================================================================
//
// Ledger reference numbers must be globally unique across API replicas and
// roughly time-ordered so they index well.
//
//   0 - 41 bit timestamp - 10 bit worker id - 12 bit sequence
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Reference number prefixes, one per ledger entry origin.
const (
	PrefixPurchase   = "SPN"
	PrefixPayment    = "PMT"
	PrefixEarned     = "ERN"
	PrefixAdjustment = "ADJ"
	PrefixInterest   = "INT"
	PrefixPenalty    = "PEN"
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// NewSnowflake returns a generator for workerID.
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID must be within 0-%d", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets up the default generator. Only the first call has effect.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

func NextID() int64 {
	// no-op once Init has run
	_ = Init(1)
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// clock moved backwards: keep issuing from the last timestamp
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateReferenceNo returns prefix + yyyymmdd + snowflake id,
// e.g. PMT202601155864871391232.
func GenerateReferenceNo(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s%d", prefix, time.Now().UTC().Format("20060102"), id)
}
