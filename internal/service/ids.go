package service

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ulidMu   sync.Mutex
	ulidMono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ulidMono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewCorrelationID returns a time-sortable ULID shared by every leg of one operation.
func NewCorrelationID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), ulidMono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

var accountNumberSpace = big.NewInt(1_000_000_000_000)

// newAccountNumber returns a random 12-digit account number.
func newAccountNumber() (string, error) {
	n, err := cryptoRand.Int(cryptoRand.Reader, accountNumberSpace)
	if err != nil {
		return "", fmt.Errorf("generating account number: %w", err)
	}
	return fmt.Sprintf("%012d", n.Int64()), nil
}
